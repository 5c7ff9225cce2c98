package main

import "github.com/iksnae/querychat/cmd"

func main() {
	cmd.Execute()
}
