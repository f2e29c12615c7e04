package main

import "github.com/artificial-imagination/tamaki/internal/cmd"

func main() {
	cmd.Execute()
}
