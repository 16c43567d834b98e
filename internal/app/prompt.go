// internal/app/prompt.go
package app

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/petervdpas/goopchat/internal/config"
)

// PromptInteractive asks for the settings a fresh profile needs.
func PromptInteractive(dir, cfgPath string, cfg config.Config) config.Config {
	in := bufio.NewReader(os.Stdin)

	fmt.Println("────────────────────────────────────────")
	fmt.Println("goopchat interactive setup")
	fmt.Printf(" Profile folder : %s\n", dir)
	fmt.Printf(" Config file    : %s\n", cfgPath)
	fmt.Println("────────────────────────────────────────")
	fmt.Println()

	cfg.Identity.UserID = askString(in, "User id (empty=from token)", cfg.Identity.UserID)
	cfg.Identity.Name = askString(in, "Display name", cfg.Identity.Name)
	cfg.Identity.Token = askString(in, "Auth token", cfg.Identity.Token)

	cfg.Relay.URL = askString(in, "Relay URL", cfg.Relay.URL)
	cfg.API.BaseURL = askString(in, "API base URL", cfg.API.BaseURL)

	cfg.Call.PreferAudioOnly = askBool(in, "Audio-only calls", cfg.Call.PreferAudioOnly)
	cfg.Call.RingTimeoutSeconds = askInt(in, "Ring timeout seconds (0=off)", cfg.Call.RingTimeoutSeconds)

	cfg.Notify.Sound = askBool(in, "Notification sound", cfg.Notify.Sound)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\nKeeping defaults.\n", err)
		return config.Default()
	}
	return cfg
}

func askString(in *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, label string, def int) int {
	for {
		fmt.Printf("%s [%d]: ", label, def)
		s, _ := in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
		fmt.Println("Please enter a number.")
	}
}

func askBool(in *bufio.Reader, label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Printf("%s [y/n] (default=%s): ", label, defStr)
		s, _ := in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		default:
			fmt.Println("Please enter y or n.")
		}
	}
}
