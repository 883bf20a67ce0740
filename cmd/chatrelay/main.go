package main

import "github.com/vietddude/chatrelay/internal/cli"

func main() {
	cli.Execute()
}
