package main

import (
	"github.com/quarrydata/marketplace-crawler/cmd"
)

func main() {
	cmd.Execute()
}
