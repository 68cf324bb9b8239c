package main

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quizsense/internal/capture"
	"quizsense/internal/config"
	"quizsense/internal/detect"
	"quizsense/internal/logging"
	"quizsense/internal/ml"
	"quizsense/internal/service"
	"quizsense/internal/store"
)

const version = "0.3.0"

var (
	configPath    string
	detectionPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quizsense",
		Short: "Continuous quiz question detection from screen frames",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "Settings.ini", "operator settings file")
	rootCmd.PersistentFlags().StringVar(&detectionPath, "detection", "detection.yaml", "detection tuning file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration. A missing settings
// file falls back to defaults; the detection overlay is optional too.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.LoadFromINI(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.LoadDetectionYAML(detectionPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCmd() *cobra.Command {
	var framesDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the perception service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			grabber, err := capture.NewFileGrabber(framesDir)
			if err != nil {
				return fmt.Errorf("frame source: %w", err)
			}

			svc, err := service.New(cfg, grabber, &nullOCR{}, newLogAutomation())
			if err != nil {
				return err
			}
			if err := svc.Start(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			svc.Stop()
			printMetrics(svc.Metrics())
			return svc.Err()
		},
	}

	cmd.Flags().StringVar(&framesDir, "frames", "frames", "directory of frames to replay as the capture source")
	return cmd
}

func statsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted detection history and row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.GetStats()
			if err != nil {
				return err
			}
			for table, count := range stats {
				fmt.Printf("%-20s %d\n", table, count)
			}

			detections, err := db.RecentDetections(limit)
			if err != nil {
				return err
			}
			if len(detections) > 0 {
				fmt.Println()
				for _, d := range detections {
					fmt.Printf("%s  %.2f  [%s]  %s (%d options)\n",
						d.DetectedAt.Format("2006-01-02 15:04:05"),
						d.Confidence, d.Method, d.QuestionText, d.OptionCount)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent detections to show")
	return cmd
}

// seedSample is one labeled example in the seed file.
type seedSample struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Label   bool     `json:"label"`
}

func seedCmd() *cobra.Command {
	var samplesPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load labeled examples, train the classifier and persist it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(samplesPath)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var seeds []seedSample
			if err := json.Unmarshal(data, &seeds); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}
			if len(seeds) == 0 {
				return fmt.Errorf("seed file %s holds no samples", samplesPath)
			}

			samples := make([]ml.TrainingSample, 0, len(seeds))
			for _, s := range seeds {
				samples = append(samples, ml.TrainingSample{
					Features:  ml.ExtractFeatures(s.Text, s.Options, nil),
					Label:     s.Label,
					Text:      s.Text,
					CreatedAt: time.Now(),
				})
			}

			db, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.SaveTrainingSamples(samples); err != nil {
				return err
			}

			ensemble := ml.NewEnsemble()
			learner := ml.NewLearner(ensemble, ml.WithBatchSize(len(samples)))
			learner.Seed(samples)
			if err := learner.Retrain(); err != nil {
				return fmt.Errorf("training failed: %w", err)
			}
			if err := store.SaveScorerStates(cfg.WeightsDir, ensemble.Scorers()); err != nil {
				return err
			}

			fmt.Printf("seeded %d samples, model saved to %s\n", len(samples), cfg.WeightsDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&samplesPath, "samples", "samples.json", "JSON file of labeled question examples")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the quizsense version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("quizsense", version)
		},
	}
}

func printMetrics(m service.Metrics) {
	fmt.Printf("mode=%s uptime=%s answered=%d\n", m.Mode, m.Uptime.Round(0), m.QuestionsAnswered)
	fmt.Printf("capture: grabs=%d accepted=%d dedup_hash=%d dedup_pixel=%d errors=%d\n",
		m.Capture.Grabs, m.Capture.Accepted, m.Capture.HashDedups, m.Capture.PixelDedups, m.Capture.Errors)
	fmt.Printf("detection: analyzed=%d found=%d duplicates=%d cache_hits=%d\n",
		m.Detection.FramesAnalyzed, m.Detection.Detections, m.Detection.Duplicates, m.Detection.CacheHits)
	fmt.Printf("learning: pending=%d retrains=%d\n", m.PendingSamples, m.Retrains)
}

// nullOCR is the text extractor used when no OCR engine is wired in.
// Structural and visual rungs of the ladder still operate; detections
// just carry no extracted text.
type nullOCR struct{}

func (*nullOCR) ExtractQuestionComponents(frame *image.RGBA) (detect.Components, error) {
	return detect.Components{}, nil
}

// logAutomation logs confirmed questions instead of acting on them.
type logAutomation struct {
	logger *logging.Logger
}

func newLogAutomation() *logAutomation {
	return &logAutomation{logger: logging.NewLogger("Automation")}
}

func (a *logAutomation) HandleQuestion(d *detect.Detection) error {
	a.logger.InfoWithFields("question detected", map[string]interface{}{
		"text":       d.QuestionText,
		"method":     d.Method,
		"confidence": fmt.Sprintf("%.2f", d.Confidence),
		"options":    len(d.Options),
	})
	return nil
}
