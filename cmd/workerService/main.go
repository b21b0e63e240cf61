package main

import (
	"github.com/voicegrid/transched/internal/app/worker"
	"github.com/labstack/gommon/color"
)

func main() {
	printBanner()
	worker.Execute()
}

var version string

func printBanner() {
	banner := `
   __                              __             __
  / /__________ _____  ___________/ /_  ___  ____/ /
 / __/ ___/ __ ` + "`" + `/ __ \/ ___/ ___/ __ \/ _ \/ __  /
/ /_/ /  / /_/ / / / (__  ) /__/ / / /  __/ /_/ /
\__/_/   \__,_/_/ /_/____/\___/_/ /_/\___/\__,_/

           worker | v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("github.com/voicegrid/transched"))
}
