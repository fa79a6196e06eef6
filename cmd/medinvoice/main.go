package main

import "github.com/MeKo-Tech/medinvoice/cmd/medinvoice/cmd"

func main() {
	cmd.Execute()
}
