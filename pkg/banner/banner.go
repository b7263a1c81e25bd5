package banner

import (
	"fmt"

	"chainbot/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ██╗███╗   ██╗██████╗  ██████╗ ████████╗
██╔════╝██║  ██║██╔══██╗██║████╗  ██║██╔══██╗██╔═══██╗╚══██╔══╝
██║     ███████║███████║██║██╔██╗ ██║██████╔╝██║   ██║   ██║
██║     ██╔══██║██╔══██║██║██║╚██╗██║██╔══██╗██║   ██║   ██║
╚██████╗██║  ██║██║  ██║██║██║ ╚████║██████╔╝╚██████╔╝   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝╚═╝  ╚═══╝╚═════╝  ╚═════╝    ╚═╝
`

// PrintWithEff prints the banner plus the effective runtime settings so
// ops can see at a glance what this process is doing.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	cfg := eff.Config

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", eff.Addr)
	fmt.Printf("DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", eff.Source)
	if cfg != nil {
		fmt.Printf("Bot:      @%s\n", cfg.Bot.Name)
		mode := "long-poll"
		if cfg.Bot.Webhook.Enabled {
			mode = "webhook " + cfg.Bot.Webhook.Address + cfg.Bot.Webhook.Path
		}
		fmt.Printf("Updates:  %s\n", mode)
		if cfg.Retention.Enabled {
			cron := cfg.Retention.Cron
			if cron == "" {
				cron = "0 2 * * *"
			}
			fmt.Printf("Sweep:    %s (window %s)\n", cron, cfg.RetentionWindow())
		} else {
			fmt.Println("Sweep:    disabled")
		}
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /healthz | /readyz")
	fmt.Println("GET  /v1/chains?q=<title>&requester=<user id>")
	fmt.Println("GET  /v1/chains/{id}")
	fmt.Println("GET  /admin/stats  POST /admin/sweep")
	fmt.Println("GET  /metrics  /docs/")

	fmt.Println("\n== Production? =================================================")
	if cfg == nil || cfg.Bot.Token == "" {
		fmt.Println("- Bot token: MISSING (set bot.token or BOT_TOKEN)")
	} else {
		fmt.Println("- Bot token: OK")
	}
	fmt.Println("- Set a proper storage path (--db)")
	fmt.Println("- Put the admin port behind your own auth or firewall")
}
