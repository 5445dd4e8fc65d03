package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/cabmeter/cmd/cabmeter-agent/app"
)

func main() {
	app.NewApp().Run()
}
