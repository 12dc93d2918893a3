package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vclabel/spool/internal/config"
	"github.com/vclabel/spool/internal/logging"
	"github.com/vclabel/spool/internal/printer"
)

var (
	configPath string
	host       string
	port       int

	getStatus      bool
	printJPEG      string
	releaseToken   string
	printLock      bool
	printMode      string
	printCut       string
	waitAfterPrint bool
	jsonOutput     bool
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "label-raw",
	Short: "Talk to a label printer directly, bypassing the queue",
	Long: `label-raw drives a network label printer over its native TCP
protocol. It queries status, prints a single JPEG, or clears a lock
left behind by a crashed client. Exactly one operation per invocation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
	rootCmd.Flags().StringVar(&host, "host", "", "printer host (overrides config)")
	rootCmd.Flags().IntVar(&port, "port", 0, "printer port (overrides config)")

	rootCmd.Flags().BoolVar(&getStatus, "get-status", false, "query device and tape status")
	rootCmd.Flags().StringVar(&printJPEG, "print-jpeg", "", "print the given JPEG file")
	rootCmd.Flags().StringVar(&releaseToken, "release", "", "release the lock held under the given job token")

	rootCmd.Flags().BoolVar(&printLock, "print-lock", false, "hold the device lock while printing")
	rootCmd.Flags().StringVar(&printMode, "print-mode", string(printer.ModeNormal), "print mode: normal or vivid")
	rootCmd.Flags().StringVar(&printCut, "print-cut", string(printer.CutFull), "cut mode: none, half or full")
	rootCmd.Flags().BoolVar(&waitAfterPrint, "wait-after-print", false, "poll until the device returns to idle")
	rootCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "machine-readable output")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.MarkFlagsOneRequired("get-status", "print-jpeg", "release")
	rootCmd.MarkFlagsMutuallyExclusive("get-status", "print-jpeg", "release")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if host != "" {
		cfg.Printer.Host = host
	}
	if port != 0 {
		cfg.Printer.Port = port
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logging.Setup(cfg.Logging)

	session := printer.NewSession(cfg.Printer)

	switch {
	case getStatus:
		return runStatus(session)
	case printJPEG != "":
		return runPrint(cmd.Context(), session)
	default:
		return runRelease(session)
	}
}

func runStatus(session *printer.Session) error {
	status, err := session.GetStatus()
	if err != nil {
		if jsonOutput && errors.Is(err, printer.ErrConnect) {
			printJSON(&printer.StatusReport{Connected: false})
		}
		return err
	}

	if jsonOutput {
		printJSON(status.Report())
		return nil
	}

	fmt.Printf("Model:    %s\n", status.Model)
	fmt.Printf("Serial:   %s\n", status.Serial)
	fmt.Printf("WLAN MAC: %s\n", status.WLANMAC)
	fmt.Printf("State:    %s (stage %s, error %s)\n", status.State, status.JobStage, status.JobError)
	if status.TapePresent {
		fmt.Printf("Tape:     %dmm (type %d)", status.TapeWidthMM, status.CassetteType)
		if status.TapeTotalMM > 0 {
			fmt.Printf(", %d of %dmm remaining (%d%%)",
				status.TapeRemainMM, status.TapeTotalMM,
				status.TapeRemainMM*100/status.TapeTotalMM)
		}
		fmt.Println()
	} else {
		fmt.Println("Tape:     none")
	}

	return nil
}

func runPrint(ctx context.Context, session *printer.Session) error {
	image, err := os.ReadFile(printJPEG)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if http.DetectContentType(image) != "image/jpeg" {
		return fmt.Errorf("%s is not a JPEG", printJPEG)
	}

	mode, err := printer.ParsePrintMode(printMode)
	if err != nil {
		return err
	}
	cut, err := printer.ParseCutMode(printCut)
	if err != nil {
		return err
	}

	req := printer.PrintRequest{
		Image:       image,
		Mode:        mode,
		Cut:         cut,
		UseLock:     printLock,
		WaitForIdle: waitAfterPrint,
	}

	if err := session.Print(ctx, req); err != nil {
		if errors.Is(err, printer.ErrLockBusy) {
			log.Error().Msg("printer is locked by another client, use --release to clear a stuck lock")
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]any{"printed": true, "bytes": len(image)})
	} else {
		fmt.Printf("printed %s (%d bytes)\n", printJPEG, len(image))
	}

	return nil
}

func runRelease(session *printer.Session) error {
	if err := session.Release(releaseToken); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]any{"released": true})
	} else {
		fmt.Println("lock released")
	}

	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
