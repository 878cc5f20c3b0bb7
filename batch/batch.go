// Package batch drives image ingestion over a discovered file list in small resumable steps.
package batch

import (
	"context"
	"errors"
	"fmt"
	"gallery/cache"
	"gallery/discovery"
	"gallery/ingest"
	"gallery/logging"
	"gallery/metrics"
	"gallery/models"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const DefaultChunkSize = 20

type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (uint64, error)
	Unzip(ctx context.Context, archivePath string, req ingest.UnzipRequest) (int, error)
}

type Counters interface {
	RecomputeAfterBatch(ctx context.Context, albumID, userID uint64) error
}

type Config struct {
	ChunkSize    int
	AllowArchive bool
	TmpDir       string   // Staging area for archives processed in copy mode
	Fs           afero.Fs // Filesystem holding the sources
	Logger       *zap.Logger
}

type JobHandle string

// Target says where discovered files go
type Target struct {
	AlbumID uint64
	UserID  uint64
	Scheme  string
	Copy    bool // Keep the sources, otherwise they are moved
}

type StartRequest struct {
	Source string // Directory to import from
	Target
}

type StepResult struct {
	Processed int
	Total     int
	Fraction  float64
	Done      bool
}

type Stepper struct {
	db       *gorm.DB
	ingestor Ingester
	counters Counters
	events   cache.Invalidator
	cfg      Config
	log      *zap.Logger
}

func New(db *gorm.DB, ingestor Ingester, counters Counters, events cache.Invalidator, cfg Config) *Stepper {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = afero.GetTempDir(cfg.Fs, "gallery")
	}
	if events == nil {
		events = cache.Nop{}
	}
	return &Stepper{
		db:       db,
		ingestor: ingestor,
		counters: counters,
		events:   events,
		cfg:      cfg,
		log:      logging.OrNop(cfg.Logger),
	}
}

// Start discovers the files under req.Source once and stores them with a new job.
// A missing source fails before any state is created.
func (s *Stepper) Start(ctx context.Context, req StartRequest) (JobHandle, error) {
	files, err := discovery.ScanDirectory(s.cfg.Fs, req.Source, discovery.DefaultExtensions(s.cfg.AllowArchive))
	if err != nil {
		return "", err
	}
	return s.StartFiles(ctx, files, req.Target)
}

// StartFiles creates a job over an already discovered list
func (s *Stepper) StartFiles(ctx context.Context, files []discovery.File, target Target) (JobHandle, error) {
	jobID := uuid.NewString()
	progress := models.BatchProgress{
		JobID:   jobID,
		AlbumID: target.AlbumID,
		UserID:  target.UserID,
		Scheme:  target.Scheme,
		Copy:    target.Copy,
		Status:  models.BatchRunning,
		Total:   len(files),
	}
	rows := make([]models.BatchFile, 0, len(files))
	for i, f := range files {
		rows = append(rows, models.BatchFile{
			JobID: jobID,
			Index: i,
			Path:  f.Path,
			Name:  f.Name,
			Size:  f.Size,
			Kind:  string(f.Kind),
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&progress).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return "", fmt.Errorf("create batch job: %w", err)
	}
	s.log.Info("batch job started",
		zap.String("job_id", jobID),
		zap.Uint64("album_id", target.AlbumID),
		zap.Int("files", len(files)),
		zap.Bool("copy", target.Copy))
	return JobHandle(jobID), nil
}

// Progress returns the stored state of a job
func (s *Stepper) Progress(ctx context.Context, h JobHandle) (models.BatchProgress, error) {
	progress := models.BatchProgress{}
	err := s.db.WithContext(ctx).Where("job_id = ?", string(h)).Take(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return progress, &Error{Kind: ErrUnknownJob, JobID: string(h)}
	}
	return progress, err
}

// Step processes the next chunk of files. Progress is stored after every file, and after
// every archive entry, even when ctx is cancelled once the file was imported. A step that
// stops between files resumes at the next one. Only a crash between recording an image and
// storing the cursor can import that one file again.
func (s *Stepper) Step(ctx context.Context, h JobHandle) (StepResult, error) {
	progress, err := s.Progress(ctx, h)
	if err != nil {
		return StepResult{}, err
	}
	log := s.log.With(zap.String("job_id", progress.JobID), zap.Uint64("album_id", progress.AlbumID))
	metrics.BatchStepsTotal.Inc()

	if progress.Status == models.BatchRunning && progress.Cursor < progress.Total {
		var chunk []models.BatchFile
		err = s.db.WithContext(ctx).
			Where("job_id = ? AND position >= ?", progress.JobID, progress.Cursor).
			Order("position").
			Limit(s.cfg.ChunkSize).
			Find(&chunk).Error
		if err != nil {
			return StepResult{}, err
		}
		for _, file := range chunk {
			if err = ctx.Err(); err != nil {
				return result(progress), err
			}
			if err = s.process(ctx, log, &progress, file); err != nil {
				return result(progress), err
			}
			progress.Processed = min(progress.Processed+1, progress.Total)
			progress.Cursor = progress.Processed
			if err = s.save(context.WithoutCancel(ctx), &progress); err != nil {
				return result(progress), err
			}
		}
	}
	if progress.Status == models.BatchRunning && progress.Cursor >= progress.Total {
		progress.Status = models.BatchCompleted
		if err = s.save(ctx, &progress); err != nil {
			return result(progress), err
		}
		log.Info("batch job completed",
			zap.Int("images", progress.ImagesProcessed),
			zap.Int("failed", progress.Failed))
	}
	return result(progress), nil
}

func result(p models.BatchProgress) StepResult {
	r := StepResult{
		Processed: p.Processed,
		Total:     p.Total,
		Fraction:  1,
		Done:      p.Status != models.BatchRunning,
	}
	if p.Total > 0 {
		r.Fraction = float64(p.Processed) / float64(p.Total)
	}
	return r
}

func (s *Stepper) save(ctx context.Context, p *models.BatchProgress) error {
	return s.db.WithContext(ctx).Save(p).Error
}

// process handles one discovered file. Only job level failures are returned.
func (s *Stepper) process(ctx context.Context, log *zap.Logger, p *models.BatchProgress, file models.BatchFile) error {
	if discovery.Kind(file.Kind) == discovery.KindArchive {
		return s.processArchive(ctx, log, p, file)
	}
	_, err := s.ingestor.Ingest(ctx, ingest.Request{
		File:    discovery.NewFile(s.cfg.Fs, file.Path, file.Size, file.Index, discovery.KindImage),
		AlbumID: p.AlbumID,
		UserID:  p.UserID,
		Scheme:  p.Scheme,
		Move:    !p.Copy,
		Batched: true,
	})
	if err != nil {
		p.Failed++
		metrics.BatchFilesFailed.Inc()
		log.Warn("skipping file", zap.String("file", file.Path), zap.Error(err))
		return nil
	}
	p.ImagesProcessed++
	return nil
}

func (s *Stepper) processArchive(ctx context.Context, log *zap.Logger, p *models.BatchProgress, file models.BatchFile) error {
	if !s.cfg.AllowArchive {
		log.Info("archive upload disabled, skipping", zap.String("file", file.Path))
		return nil
	}

	archivePath := file.Path
	if p.Copy {
		archivePath = filepath.Join(s.cfg.TmpDir, p.JobID+"-"+strconv.Itoa(file.Index)+".zip")
	}
	resuming := p.ArchivePath == archivePath
	if resuming {
		// Extraction ended and removed the archive before the file was marked processed
		if exists, _ := afero.Exists(s.cfg.Fs, archivePath); !exists {
			p.ArchivePath = ""
			p.ArchiveEntry = 0
			return nil
		}
	} else {
		if p.Copy {
			if err := s.stage(file.Path, archivePath); err != nil {
				return s.fail(ctx, p, &Error{Kind: ErrArchiveOpenFailed, JobID: p.JobID, File: file.Path, Err: err})
			}
		}
		p.ArchivePath = archivePath
		p.ArchiveEntry = 0
		if err := s.save(ctx, p); err != nil {
			return err
		}
	}

	_, err := s.ingestor.Unzip(ctx, archivePath, ingest.UnzipRequest{
		Fs:         s.cfg.Fs,
		AlbumID:    p.AlbumID,
		UserID:     p.UserID,
		Scheme:     p.Scheme,
		Batched:    true,
		StartEntry: p.ArchiveEntry,
		OnEntry: func(next int, entryErr error) error {
			p.ArchiveEntry = next
			switch {
			case entryErr == nil:
				p.ImagesProcessed++
			case !errors.Is(entryErr, ingest.ErrLimitReached):
				p.Failed++
				metrics.BatchFilesFailed.Inc()
			}
			return s.save(context.WithoutCancel(ctx), p)
		},
	})
	if errors.Is(err, discovery.ErrArchiveOpenFailed) {
		return s.fail(ctx, p, &Error{Kind: ErrArchiveOpenFailed, JobID: p.JobID, File: file.Path, Err: err})
	}
	if err != nil {
		return err
	}
	p.ArchivePath = ""
	p.ArchiveEntry = 0
	return nil
}

// stage copies the source archive so that extracting it leaves the source in place
func (s *Stepper) stage(src, dest string) error {
	if err := s.cfg.Fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := s.cfg.Fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := s.cfg.Fs.Create(dest)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (s *Stepper) fail(ctx context.Context, p *models.BatchProgress, jobErr *Error) error {
	p.Status = models.BatchFailed
	p.Error = jobErr.Error()
	if len(p.Error) > 1000 {
		p.Error = p.Error[:1000]
	}
	if err := s.save(ctx, p); err != nil {
		return errors.Join(jobErr, err)
	}
	s.log.Error("batch job failed", zap.String("job_id", p.JobID), zap.Error(jobErr))
	return jobErr
}

// Finish recounts the target album and owner once, invalidates their caches and drops the job
func (s *Stepper) Finish(ctx context.Context, h JobHandle, success bool) (Summary, error) {
	progress, err := s.Progress(ctx, h)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{
		JobID:           progress.JobID,
		ImagesProcessed: progress.ImagesProcessed,
		Failed:          progress.Failed,
		AlbumID:         progress.AlbumID,
		UserID:          progress.UserID,
		Copy:            progress.Copy,
		Success:         success && progress.Status != models.BatchFailed,
	}

	if s.counters != nil {
		if err := s.counters.RecomputeAfterBatch(ctx, progress.AlbumID, progress.UserID); err != nil {
			s.log.Warn("counter recompute after batch failed", zap.String("job_id", progress.JobID), zap.Error(err))
		}
	}
	s.events.Fire(ctx, cache.BatchFinished{AlbumID: progress.AlbumID, UserID: progress.UserID})

	if err := s.remove(ctx, progress.JobID); err != nil {
		return summary, err
	}
	status := models.BatchCompleted
	if !summary.Success {
		status = models.BatchFailed
	}
	metrics.BatchJobsTotal.WithLabelValues(status).Inc()
	s.log.Info("batch job finished",
		zap.String("job_id", progress.JobID),
		zap.String("message", summary.Message()))
	return summary, nil
}

func (s *Stepper) remove(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&models.BatchFile{}).Error; err != nil {
			return err
		}
		return tx.Where("job_id = ?", jobID).Delete(&models.BatchProgress{}).Error
	})
}

// CleanupStale drops jobs that have not moved for olderThan, along with staged archives.
// It returns the number of jobs removed.
func (s *Stepper) CleanupStale(ctx context.Context, olderThan time.Duration) (int, error) {
	var stale []models.BatchProgress
	cutoff := time.Now().Add(-olderThan).Unix()
	if err := s.db.WithContext(ctx).Where("updated_at < ?", cutoff).Find(&stale).Error; err != nil {
		return 0, err
	}
	for _, p := range stale {
		if p.Copy && p.ArchivePath != "" {
			_ = s.cfg.Fs.Remove(p.ArchivePath)
		}
		if err := s.remove(ctx, p.JobID); err != nil {
			return 0, err
		}
		s.log.Info("stale batch job removed", zap.String("job_id", p.JobID), zap.String("status", p.Status))
	}
	return len(stale), nil
}
