// Package importer performs the one-shot bulk import of static rules content
// into the store. Import is idempotent: record identifiers are taken from the
// source (or derived deterministically from category + name), and writes are
// batched upserts, so re-running against unchanged packs is a no-op in effect.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mizutama/loreforge/server/cache"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// ProgressChannel is the pubsub channel carrying Progress updates for SSE.
const ProgressChannel = "import:progress"

// Progress statuses.
const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
	StatusError    = "error"
)

const batchSize = 500

// Progress reports import state for one category. Fired at least once at
// category start and once at completion or error.
type Progress struct {
	Category string `json:"category"`
	Loaded   int    `json:"loaded"`
	Total    int    `json:"total"`
	Status   string `json:"status"`
}

// ProgressFunc observes import progress. Must not be assumed panic-safe by
// callers; the importer guards invocations.
type ProgressFunc func(Progress)

// SourceRecord is the shape of one pack file. _id is optional (an ID is then
// synthesized), name defaults to a placeholder, system is preserved opaquely.
type SourceRecord struct {
	ID     string          `json:"_id"`
	Name   string          `json:"name"`
	System json.RawMessage `json:"system"`
	Img    string          `json:"img"`
	Folder string          `json:"folder"`
	Sort   int             `json:"sort"`
	Flags  json.RawMessage `json:"flags"`
}

// systemFields is the slice of the system payload the importer extracts into
// indexed columns. Everything else stays opaque.
type systemFields struct {
	Level struct {
		Value int `json:"value"`
	} `json:"level"`
	Traits struct {
		Value []string `json:"value"`
	} `json:"traits"`
}

// Importer ingests pack files into the rules collection.
type Importer struct {
	store      *store.Store
	packsDir   string
	manifest   string
	pubsub     cache.PubSub
	logger     *zap.Logger
	onProgress ProgressFunc
}

// New creates an Importer reading packs from packsDir with the given manifest
// file name. pubsub and onProgress may be nil.
func New(st *store.Store, packsDir, manifestFile string, pubsub cache.PubSub, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if manifestFile == "" {
		manifestFile = "manifest.json"
	}
	return &Importer{
		store:    st,
		packsDir: packsDir,
		manifest: manifestFile,
		pubsub:   pubsub,
		logger:   logger,
	}
}

// OnProgress registers the progress callback.
func (im *Importer) OnProgress(fn ProgressFunc) { im.onProgress = fn }

// Manifest maps category name to the list of pack file names for it.
type Manifest map[string][]string

// LoadManifest reads the pack manifest. A missing manifest is fatal to import
// with an actionable message, since nothing can be imported without it.
func (im *Importer) LoadManifest() (Manifest, error) {
	path := filepath.Join(im.packsDir, im.manifest)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("importer: pack manifest missing at %s; regenerate it after changing the packs directory", path)
		}
		return nil, fmt.Errorf("importer: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("importer: parse manifest %s: %w", path, err)
	}
	return m, nil
}

// ImportCategory imports every listed pack file for the category and returns
// the count of successfully written records. Individual bad files are skipped
// and logged; only manifest absence, an unknown category, or a failed batch
// write abort the category.
func (im *Importer) ImportCategory(category string) (int, error) {
	if !model.ValidCategory(category) {
		return 0, model.ErrUnknownCategory(category)
	}
	manifest, err := im.LoadManifest()
	if err != nil {
		im.report(Progress{Category: category, Status: StatusError})
		return 0, err
	}
	files, ok := manifest[category]
	if !ok {
		im.report(Progress{Category: category, Status: StatusError})
		return 0, fmt.Errorf("importer: category %q not listed in manifest", category)
	}

	db, err := im.store.DB()
	if err != nil {
		return 0, err
	}

	total := len(files)
	im.report(Progress{Category: category, Total: total, Status: StatusLoading})

	records := make([]*model.Rule, 0, total)
	skipped := 0
	for _, name := range files {
		rec, err := im.readSource(category, name)
		if err != nil {
			skipped++
			im.logger.Warn("skipping pack file",
				zap.String("category", category),
				zap.String("file", name),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	written := 0
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		if err := db.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(batch, batchSize).Error; err != nil {
			im.report(Progress{Category: category, Loaded: written, Total: total, Status: StatusError})
			return written, fmt.Errorf("importer: bulk write %s: %w", category, err)
		}
		written += len(batch)
		im.report(Progress{Category: category, Loaded: written, Total: total, Status: StatusLoading})
	}

	if skipped > 0 {
		im.logger.Warn("category imported with skipped files",
			zap.String("category", category),
			zap.Int("written", written),
			zap.Int("skipped", skipped))
	}
	im.report(Progress{Category: category, Loaded: written, Total: total, Status: StatusComplete})
	return written, nil
}

// ImportAllCore sequentially imports the essential categories, tolerating
// per-category failures, then sets the persisted data-loaded flag. The flag
// is set only after every category has been attempted, so a crashed import
// re-runs on next launch.
func (im *Importer) ImportAllCore(ctx context.Context) (int, error) {
	total := 0
	for _, category := range model.CoreCategories {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := im.ImportCategory(category)
		total += n
		if err != nil {
			// One malformed content pack must not cost the user the app.
			im.logger.Error("category import failed, continuing",
				zap.String("category", category), zap.Error(err))
			continue
		}
	}
	if err := im.store.MarkDataLoaded(time.Now()); err != nil {
		return total, err
	}
	im.logger.Info("core import finished", zap.Int("records", total))
	return total, nil
}

// ImportOptional imports non-essential categories on demand. It never touches
// the data-loaded flag.
func (im *Importer) ImportOptional(ctx context.Context, categories []string) (int, error) {
	total := 0
	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if !model.ValidCategory(category) {
			return total, model.ErrUnknownCategory(category)
		}
		n, err := im.ImportCategory(category)
		total += n
		if err != nil {
			im.logger.Error("optional category import failed, continuing",
				zap.String("category", category), zap.Error(err))
		}
	}
	return total, nil
}

// readSource reads one pack file into a Rule record.
func (im *Importer) readSource(category, name string) (*model.Rule, error) {
	data, err := os.ReadFile(filepath.Join(im.packsDir, category, name))
	if err != nil {
		return nil, err
	}
	var src SourceRecord
	if err := json.Unmarshal(data, &src); err != nil {
		return nil, err
	}
	if src.Name == "" {
		src.Name = "Unnamed " + category
	}

	id := src.ID
	if id == "" {
		// Deterministic: idempotent re-import needs stable identifiers.
		id = Slug(category + "-" + src.Name)
	}

	var sys systemFields
	if len(src.System) > 0 {
		// Best-effort extraction; a payload without level/traits is fine.
		_ = json.Unmarshal(src.System, &sys)
	}

	return &model.Rule{
		ID:       id,
		Category: category,
		Name:     src.Name,
		Level:    sys.Level.Value,
		Traits:   model.NormalizeTraits(sys.Traits.Value),
		System:   datatypes.JSON(src.System),
		Img:      src.Img,
		Folder:   src.Folder,
		Sort:     src.Sort,
		Flags:    datatypes.JSON(src.Flags),
	}, nil
}

// Slug lowercases s and collapses runs of non-alphanumerics into single
// hyphens. Used to synthesize identifiers for sources without _id.
func Slug(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// report invokes the callback and publishes the progress event, swallowing
// panics so a bad observer cannot abort an import.
func (im *Importer) report(p Progress) {
	if im.onProgress != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					im.logger.Error("progress callback panicked", zap.Any("recover", r))
				}
			}()
			im.onProgress(p)
		}()
	}
	if im.pubsub != nil {
		raw, err := json.Marshal(p)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = im.pubsub.Publish(ctx, ProgressChannel, string(raw))
	}
}
