package banner

import (
	"fmt"

	"feedforge/pkg/config"
)

const banner = `
███████╗███████╗███████╗██████╗ ███████╗ ██████╗ ██████╗  ██████╗ ███████╗
██╔════╝██╔════╝██╔════╝██╔══██╗██╔════╝██╔═══██╗██╔══██╗██╔════╝ ██╔════╝
█████╗  █████╗  █████╗  ██║  ██║█████╗  ██║   ██║██████╔╝██║  ███╗█████╗
██╔══╝  ██╔══╝  ██╔══╝  ██║  ██║██╔══╝  ██║   ██║██╔══██╗██║   ██║██╔══╝
██║     ███████╗███████╗██████╔╝██║     ╚██████╔╝██║  ██║╚██████╔╝███████╗
╚═╝     ╚══════╝╚══════╝╚═════╝ ╚═╝      ╚═════╝ ╚═╝  ╚═╝ ╚═════╝ ╚══════╝
`

// PrintWithEff prints the banner plus the effective runtime config.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dataPath := eff.DataPath
	if dataPath == "" && eff.Config != nil {
		dataPath = eff.Config.Storage.DataPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", addr)
	fmt.Printf("Data Path: %s\n", dataPath)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Printf("Config sources: %s\n", src)
	if eff.Config != nil {
		mode := "synchronous"
		if eff.Config.BackgroundEnabled() {
			mode = "background"
		}
		fmt.Printf("Mode:      %s\n", mode)
		fmt.Printf("Watchdog:  %s\n", eff.Config.WatchdogCron())
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("PUT  /v1/feeds/{id} - Register or update a feed definition")
	fmt.Println("GET  /v1/feeds/{id} - Feed definition, status and run counts")
	fmt.Println("POST /v1/feeds/{id}/generate - Queue or run feed generation")
	fmt.Println("GET  /v1/queue - Pending feed queue and processing flag")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X PUT 'http://localhost%s/v1/feeds/shop' -H 'X-API-Key: <key>' -d @feed.json\n", addr)
	fmt.Printf("curl -X POST 'http://localhost%s/v1/feeds/shop/generate' -H 'X-API-Key: <key>'\n", addr)
}
