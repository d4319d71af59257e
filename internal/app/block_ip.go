package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"iptracker/internal/blocklist"
	"iptracker/internal/database"
	"iptracker/internal/support"
)

const blockCommandTimeout = 30 * time.Second

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type ipAdder interface {
	Add(ctx context.Context, ip string) (bool, error)
}

// RunBlockIP is the block-ip command. It returns the process exit code.
func RunBlockIP(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("block-ip", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: block-ip <ip_address>")
		fmt.Fprintln(stderr, "Add an IP address to the blocklist.")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	log.SetOutput(stderr)
	log.SetLevel(log.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), blockCommandTimeout)
	defer cancel()

	db, err := database.SetupDB(database.WithConnectTimeout(10 * time.Second))
	if err != nil {
		fmt.Fprintln(stderr, errorStyle.Render(fmt.Sprintf("Error blocking IP address: %v", err)))
		return 1
	}
	defer database.Close()

	var opts []blocklist.Option
	if support.GetEnvBool("REDIS_ENABLED", true) {
		if client, err := support.GetRedisClient(); err != nil {
			log.Warn("Redis unavailable, instances sharing redis pick the address up on their next refresh", "error", err)
		} else {
			defer support.CloseRedisClient()
			opts = append(opts, blocklist.WithRedis(client))
		}
	}

	return blockAddress(ctx, blocklist.NewManager(database.NewStore(db), opts...), fs.Arg(0), stdout, stderr)
}

func blockAddress(ctx context.Context, adder ipAdder, ip string, stdout, stderr io.Writer) int {
	created, err := adder.Add(ctx, ip)
	switch {
	case errors.Is(err, blocklist.ErrInvalidIP):
		fmt.Fprintln(stderr, errorStyle.Render(fmt.Sprintf("Error blocking IP address: %q is not a valid IP address", ip)))
		return 1
	case err != nil:
		fmt.Fprintln(stderr, errorStyle.Render(fmt.Sprintf("Error blocking IP address: %v", err)))
		return 1
	case !created:
		fmt.Fprintln(stdout, warningStyle.Render(fmt.Sprintf("IP address %s is already blocked.", blocklist.Canonical(ip))))
		return 0
	default:
		fmt.Fprintln(stdout, successStyle.Render(fmt.Sprintf("Successfully blocked IP address: %s", blocklist.Canonical(ip))))
		return 0
	}
}
