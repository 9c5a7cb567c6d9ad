package main

import "github.com/vietddude/narrator/internal/cli"

func main() {
	cli.Execute()
}
