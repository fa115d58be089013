package main

import "github.com/xKodda/realcars-payments/cmd"

func main() {
	cmd.Execute()
}
