package main

import (
	"github.com/Manu343726/altpatch/cmd"
)

func main() {
	cmd.Execute()
}
