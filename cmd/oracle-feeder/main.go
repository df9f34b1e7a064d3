package main

import "oracle-feeder/internal/cli"

func main() {
	cli.Execute()
}
