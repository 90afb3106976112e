package main

import "github.com/rami3l/golox/cmd"

func main() {
	_ = cmd.App().Execute()
}
