package main

import "github.com/vietddude/flowcore/internal/cli"

func main() {
	cli.Execute()
}
