package main

import "github.com/vietddude/logsync/internal/cli"

func main() {
	cli.Execute()
}
