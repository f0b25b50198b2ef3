package bench

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/retry"
	"github.com/vietddude/flowcore/internal/core/txn"
)

// ErrCorruptBalance is returned when an account value is not a decimal integer.
var ErrCorruptBalance = errors.New("corrupt balance")

// Pair is one transfer's source and destination account.
type Pair struct {
	From int
	To   int
}

// RandomPair picks two distinct accounts out of n.
func RandomPair(n int) Pair {
	from := Intn(n)
	to := Intn(n - 1)
	if to >= from {
		to++
	}
	return Pair{From: from, To: to}
}

// AccountKey is the key holding account i's balance.
func AccountKey(i int) []byte {
	return []byte(fmt.Sprintf("acct/%06d", i))
}

// EncodeBalance renders a balance for storage.
func EncodeBalance(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

// DecodeBalance parses a stored balance. Absent accounts hold zero.
func DecodeBalance(p []byte) (int64, error) {
	if p == nil {
		return 0, nil
	}
	v, err := strconv.ParseInt(string(p), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrCorruptBalance, p)
	}
	return v, nil
}

// Seed writes balance into accounts [0, n).
func Seed(n int, balance int64) retry.VoidFunc {
	return func(tr txn.Transaction) *future.Future[struct{}] {
		for i := 0; i < n; i++ {
			tr.Set(AccountKey(i), EncodeBalance(balance))
		}
		return future.Ready(struct{}{})
	}
}

// Transfer moves up to amount from p.From to p.To and yields the amount
// actually moved. The total across accounts is unchanged.
func Transfer(exec future.Executor, p Pair, amount int64) retry.Func[int64] {
	return func(tr txn.Transaction) *future.Future[int64] {
		fromKey, toKey := AccountKey(p.From), AccountKey(p.To)
		reads := future.All(exec, []*future.Future[[]byte]{tr.Get(fromKey), tr.Get(toKey)})

		return future.Map(exec, reads, func(vals [][]byte) (int64, error) {
			from, err := DecodeBalance(vals[0])
			if err != nil {
				return 0, err
			}
			to, err := DecodeBalance(vals[1])
			if err != nil {
				return 0, err
			}

			moved := min(amount, from)
			if moved <= 0 {
				return 0, nil
			}
			tr.Set(fromKey, EncodeBalance(from-moved))
			tr.Set(toKey, EncodeBalance(to+moved))
			return moved, nil
		})
	}
}

// Total sums accounts [0, n).
func Total(exec future.Executor, n int) retry.Func[int64] {
	return func(tr txn.Transaction) *future.Future[int64] {
		reads := make([]*future.Future[[]byte], n)
		for i := range reads {
			reads[i] = tr.Get(AccountKey(i))
		}

		return future.Map(exec, future.All(exec, reads), func(vals [][]byte) (int64, error) {
			var sum int64
			for _, v := range vals {
				b, err := DecodeBalance(v)
				if err != nil {
					return 0, err
				}
				sum += b
			}
			return sum, nil
		})
	}
}
