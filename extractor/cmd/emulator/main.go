package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Krimson/fetal-monitory/extractor/internal/emulator"
	"github.com/Krimson/fetal-monitory/extractor/internal/server"
	ctg "github.com/Krimson/fetal-monitory/extractor/internal/signal"
	"github.com/Krimson/fetal-monitory/extractor/internal/synth"
)

func main() {
	var (
		serverAddr   = flag.String("server", "localhost:50051", "Адрес gRPC сервера")
		sessionID    = flag.String("session", "", "ID сессии (по умолчанию UUID)")
		sessions     = flag.Int("sessions", 1, "Число параллельных синтетических сессий")
		scenarioName = flag.String("scenario", "normal", "Сценарий генератора: normal, late")
		scenarioFile = flag.String("scenario-file", "", "TOML файл сценария генератора")
		fhrFile      = flag.String("fhr", "", "CSV с ЧСС плода для воспроизведения")
		ucFile       = flag.String("uc", "", "CSV с маточной активностью для воспроизведения")
		duration     = flag.Float64("duration", 600, "Длительность синтетической записи, с")
		speed        = flag.Float64("speed", 1, "Ускорение относительно реального времени (0 - без пауз)")
		outFile      = flag.String("out", "", "Записать такты в JSONL файл вместо отправки на сервер")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[INFO] Received shutdown signal...")
		cancel()
	}()

	if *fhrFile != "" || *ucFile != "" {
		bpm, uterus, err := loadRecording(*fhrFile, *ucFile)
		if err != nil {
			log.Fatalf("[FATAL] Failed to load recording: %v", err)
		}
		log.Printf("[INFO] Loaded %d FHR records and %d UC records", len(bpm), len(uterus))

		id := *sessionID
		if id == "" {
			id = uuid.NewString()
		}
		src := emulator.NewReplaySource(bpm, uterus)
		if *outFile != "" {
			writeFile(ctx, *outFile, id, src)
			return
		}
		client := dial(*serverAddr)
		defer client.Close()

		stats, err := emulator.New(client, *speed).Run(ctx, id, src)
		report(stats, err)
		return
	}

	scenario, err := loadScenario(*scenarioName, *scenarioFile)
	if err != nil {
		log.Fatalf("[FATAL] Failed to load scenario: %v", err)
	}

	n := max(*sessions, 1)
	ids := make([]string, n)
	sources := make([]*emulator.SyntheticSource, n)
	for i := range n {
		ids[i] = *sessionID
		if ids[i] == "" || n > 1 {
			ids[i] = uuid.NewString()
		}
		gen, err := synth.New(scenario)
		if err != nil {
			log.Fatalf("[FATAL] Invalid scenario: %v", err)
		}
		sources[i] = emulator.NewSyntheticSource(gen, *duration)
	}

	if *outFile != "" {
		if n > 1 {
			log.Printf("[WARN] -out writes a single session, ignoring -sessions=%d", n)
		}
		writeFile(ctx, *outFile, ids[0], sources[0])
		return
	}

	client := dial(*serverAddr)
	defer client.Close()
	emu := emulator.New(client, *speed)

	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			stats, err := emu.Run(gctx, ids[i], sources[i])
			report(stats, err)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("[ERROR] Emulation finished with error: %v", err)
		os.Exit(1)
	}
	log.Println("[INFO] Emulation finished")
}

func dial(addr string) *server.Client {
	client, err := server.Dial(addr)
	if err != nil {
		log.Fatalf("[FATAL] Failed to create gRPC client: %v", err)
	}
	return client
}

func writeFile(ctx context.Context, path, sessionID string, src emulator.Source) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("[FATAL] Failed to create %s: %v", path, err)
	}
	defer f.Close()

	lines, err := emulator.WriteJSONL(ctx, f, sessionID, src)
	if err != nil {
		log.Printf("[ERROR] Failed to write %s after %d lines: %v", path, lines, err)
		return
	}
	log.Printf("[INFO] Session %s written to %s: %d ticks", sessionID, path, lines)
}

func report(stats emulator.Stats, err error) {
	if err != nil {
		log.Printf("[ERROR] Session %s: %v (ticks=%d, sent=%d, acked=%d)",
			stats.SessionID, err, stats.Ticks, stats.Sent, stats.Acked)
		return
	}
	log.Printf("[INFO] Session %s done: ticks=%d, sent=%d, acked=%d",
		stats.SessionID, stats.Ticks, stats.Sent, stats.Acked)
}

// loadScenario выбирает встроенный сценарий и накладывает поверх него TOML файл
func loadScenario(name, path string) (synth.Scenario, error) {
	var scenario synth.Scenario
	switch name {
	case "normal":
		scenario = synth.NormalScenario()
	case "late":
		scenario = synth.LateDecelerationScenario()
	default:
		return scenario, fmt.Errorf("unknown scenario %q", name)
	}

	if path == "" {
		return scenario, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return scenario, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &scenario); err != nil {
		return scenario, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return scenario, nil
}

func loadRecording(fhrPath, ucPath string) (bpm, uterus ctg.Series, err error) {
	if fhrPath != "" {
		if bpm, err = readSeries(fhrPath); err != nil {
			return nil, nil, err
		}
	}
	if ucPath != "" {
		if uterus, err = readSeries(ucPath); err != nil {
			return nil, nil, err
		}
	}
	return bpm, uterus, nil
}

func readSeries(path string) (ctg.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ctg.ReadCSV(f, path)
}
