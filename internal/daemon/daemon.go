package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"github.com/rs/zerolog"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

const (
	defaultScanInterval  = 30 * time.Second
	defaultWorkers       = 2
	defaultFileQueueSize = 50
)

// LogDaemonService tails container log files under a root directory and
// emits every new line as a log record.
type LogDaemonService struct {
	config        Config
	emitter       logging.Emitter
	fileQueue     chan string
	workersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *Metrics
	logger        zerolog.Logger

	mu        sync.Mutex
	active    map[string]struct{}
	seenFiles map[string]struct{}
	stopOnce  sync.Once
}

type Config struct {
	LogRootPath   string
	ScanInterval  time.Duration
	Workers       int
	FileQueueSize int
	NodeName      string
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaultScanInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.FileQueueSize <= 0 {
		c.FileQueueSize = defaultFileQueueSize
	}
	return c
}

type Option func(*LogDaemonService)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *LogDaemonService) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *LogDaemonService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewLogDaemonService creates the service; Start launches the scanner and
// config.Workers tailing goroutines.
func NewLogDaemonService(ctx context.Context, config Config, emitter logging.Emitter, opts ...Option) *LogDaemonService {
	config = config.withDefaults()
	nCtx, cancel := context.WithCancel(ctx)

	service := &LogDaemonService{
		config:    config,
		emitter:   emitter,
		fileQueue: make(chan string, config.FileQueueSize),
		ctx:       nCtx,
		cancel:    cancel,
		logger:    zerolog.Nop(),
		active:    make(map[string]struct{}),
		seenFiles: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.metrics == nil {
		service.metrics = NewMetrics(nil)
	}

	return service
}

func (s *LogDaemonService) Start() {
	s.logger.Info().
		Str("root", s.config.LogRootPath).
		Int("workers", s.config.Workers).
		Int("queue_size", s.config.FileQueueSize).
		Msg("Starting log daemon service")

	for i := 0; i < s.config.Workers; i++ {
		s.workersWg.Add(1)
		go s.worker(i)
	}

	s.subServicesWg.Add(1)
	go s.scanner()
}

func (s *LogDaemonService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping log daemon service")
		s.cancel()

		s.subServicesWg.Wait()

		close(s.fileQueue)
		s.workersWg.Wait()

		s.logger.Info().Msg("Log daemon service stopped")
	})
}

func (s *LogDaemonService) worker(id int) {
	defer s.workersWg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Int("worker", id).Interface("panic", r).Msg("Worker panicked")
		}
	}()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.metrics.queuedFiles.Dec()
			s.metrics.workersBusy.Inc()
			s.processFile(s.ctx, filePath)
			s.metrics.workersBusy.Dec()
			s.release(filePath)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) processFile(ctx context.Context, filePath string) {
	defer s.metrics.filesProcessed.Inc()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("file", filePath).Interface("panic", r).Msg("File processing panicked")
			s.metrics.filesFailed.Inc()
		}
	}()

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("file", filePath).Msg("Failed to tail file")
		s.metrics.filesFailed.Inc()
		return
	}
	defer t.Cleanup()
	defer t.Stop()

	labels := s.extractLabels(filePath)
	target := labels["container"]
	if target == "" {
		target = labels["file"]
	}

	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.logger.Warn().Err(line.Err).Str("file", filePath).Msg("Error reading log file")
				continue
			}
			lastActivity = time.Now()

			sev := DetectSeverity(line.Text)
			entry := logging.LogRecord{
				Timestamp:         line.Time,
				ObservedTimestamp: time.Now(),
				Severity:          sev,
				SeverityText:      logging.SeverityText(sev),
				Body:              line.Text,
				Target:            target,
				Attributes:        labels,
			}
			s.metrics.linesRead.Inc()
			if err := s.emitter.Emit(entry); err != nil {
				s.metrics.linesDropped.Inc()
			}

		case <-checkTicker.C:
			// waking up from blocking line reading to check context status and idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				s.logger.Debug().Str("file", filePath).Msg("File idle, stop tailing")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanner() {
	defer s.subServicesWg.Done()

	s.scanFiles()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

// scanFiles queues every log file that is not already being tailed.
func (s *LogDaemonService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.logger.Error().Err(err).Msg("Error discovering log files")
		return
	}

	for _, file := range files {
		if !s.claim(file) {
			continue
		}
		select {
		case s.fileQueue <- file:
			s.metrics.queuedFiles.Inc()
		case <-s.ctx.Done():
			s.release(file)
			return

		default:
			s.release(file)
			s.logger.Warn().Msgf("File queue full (%d/%d), skipping %s",
				len(s.fileQueue), cap(s.fileQueue), file)
		}
	}
}

func (s *LogDaemonService) claim(file string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seenFiles[file]; !ok {
		s.metrics.filesDiscovered.Inc()
		s.seenFiles[file] = struct{}{}
	}
	if _, busy := s.active[file]; busy {
		return false
	}
	s.active[file] = struct{}{}
	return true
}

func (s *LogDaemonService) release(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, file)
}

func (s *LogDaemonService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Error accessing path")
			return nil
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

// extractLabels reads pod identity from the kubelet layout
// <root>/<namespace>_<pod>_<uid>/<container>/<n>.log.
func (s *LogDaemonService) extractLabels(filePath string) map[string]string {
	labels := map[string]string{
		"node": s.config.NodeName,
		"file": filepath.Base(filePath),
	}

	rel, err := filepath.Rel(s.config.LogRootPath, filePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return labels
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) >= 2 {
		podParts := strings.Split(parts[0], "_")
		if len(podParts) >= 3 {
			labels["namespace"] = podParts[0]
			labels["pod"] = podParts[1]
			labels["pod_uid"] = podParts[2]
		}

		if len(parts) >= 3 {
			labels["container"] = parts[1]
		}
	}

	return labels
}
