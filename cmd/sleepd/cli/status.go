package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the sleepd server is running",
		Long:  "Check the status of the sleepd server, including process state and the /status probe.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	pid, err := readPID()
	if err != nil {
		fmt.Println("Server is not running (no PID file found).")
		return nil
	}

	if !isProcessRunning(pid) {
		removePID()
		fmt.Println("Server is not running (stale PID file removed).")
		return nil
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	// Process is alive, check the HTTP status endpoint
	statusAddr := fmt.Sprintf("http://%s:%d/status", dialHost(settings.Server.Host), settings.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(statusAddr)
	if err != nil {
		fmt.Printf("Server process is running (PID %d) but not responding to HTTP.\n", pid)
		fmt.Printf("  Logs: %s\n", logFilePath())
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Time    string `json:"time"`
		Version string `json:"version"`
	}
	json.NewDecoder(resp.Body).Decode(&body)

	fmt.Printf("Server is running (PID %d)\n", pid)
	fmt.Printf("  Status:  %s (%d)\n", statusAddr, resp.StatusCode)
	if body.Version != "" {
		fmt.Printf("  Version: %s\n", body.Version)
	}
	if body.Time != "" {
		fmt.Printf("  Time:    %s\n", body.Time)
	}
	fmt.Printf("  Logs:    %s\n", logFilePath())
	return nil
}
