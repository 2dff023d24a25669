package main

import "AskRelay/internal/cli"

func main() {
	cli.Execute()
}
