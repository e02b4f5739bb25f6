// Package storehub implements the StoreHub: the owning structure for every
// chunk store (recording or blueprint) a process holds, their caches, and
// which application/recording/blueprint is currently active. Grounded on
// original_source/crates/viewer/re_viewer_context/src/store_hub.rs;
// wiring golang.org/x/sync/errgroup for the parallel-GC fan-out spec.md §5
// calls for ("multiple stores in the hub can be mutated in parallel").
package storehub

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rerun-io/rerun-sub005/pkg/chunkstore"
	"github.com/rerun-io/rerun-sub005/pkg/timeline"
	"golang.org/x/sync/errgroup"
)

// Kind discriminates what a store holds.
type Kind uint8

const (
	// KindRecording is a store of ingested data.
	KindRecording Kind = iota
	// KindBlueprint is a store of viewer layout/configuration.
	KindBlueprint
)

func (k Kind) String() string {
	if k == KindBlueprint {
		return "blueprint"
	}
	return "recording"
}

// AppID names one logical application; several recordings and two
// blueprints (default, active) can belong to the same AppID.
type AppID string

// StoreID names one store the hub owns.
type StoreID string

// Entry is one store the hub owns, plus the metadata the hub's lifecycle
// and active-selection logic needs. StartTime drives SetActiveApp's
// earliest-recording selection; deriving it from a RecordingInfo component
// via a query is left to the caller (spec.md's query engine has no opinion
// on well-known components), so it's captured here at registration time.
type Entry struct {
	ID         StoreID
	AppID      AppID
	Kind       Kind
	Store      *chunkstore.Store
	StartTime  timeline.Int
	ClonedFrom *StoreID
}

// Caches is the lifecycle surface the hub drives once per store per frame.
// *videocache.Cache implements this directly.
type Caches interface {
	OnStoreEvents(events []chunkstore.Event) []error
	BeginFrame()
	PurgeMemory()
}

// BlueprintLoader loads a persisted blueprint for appID on first activation.
// found is false if none exists.
type BlueprintLoader func(appID AppID) (e *Entry, found bool, err error)

// BlueprintSaver persists a blueprint, e.g. at shutdown or periodically.
type BlueprintSaver func(appID AppID, e *Entry) error

// BlueprintValidator checks a blueprint against the current schema
// requirements before it may be activated.
type BlueprintValidator func(e *Entry) bool

// BlueprintPersistence is the three pluggable callbacks spec.md §6.6 names.
type BlueprintPersistence struct {
	Loader    BlueprintLoader
	Saver     BlueprintSaver
	Validator BlueprintValidator
}

// Hub owns many chunk stores and their caches (spec.md §4.6).
type Hub struct {
	mu sync.Mutex

	persistence BlueprintPersistence

	stores map[StoreID]*Entry
	caches map[StoreID]Caches

	activeApp   *AppID
	activeStore *StoreID // active recording, if any

	defaultBlueprintByApp map[AppID]StoreID
	activeBlueprintByApp  map[AppID]StoreID

	shouldEnableHeuristics map[AppID]bool

	blueprintLastGC  map[StoreID]uint64
	blueprintHistory map[StoreID]*BlueprintHistory

	nextCloneSuffix uint64
}

// New returns an empty Hub using persistence for blueprint load/save/validate.
func New(persistence BlueprintPersistence) *Hub {
	return &Hub{
		persistence:            persistence,
		stores:                 make(map[StoreID]*Entry),
		caches:                 make(map[StoreID]Caches),
		defaultBlueprintByApp:  make(map[AppID]StoreID),
		activeBlueprintByApp:   make(map[AppID]StoreID),
		shouldEnableHeuristics: make(map[AppID]bool),
		blueprintLastGC:        make(map[StoreID]uint64),
		blueprintHistory:       make(map[StoreID]*BlueprintHistory),
	}
}

// InsertStore adds e to the hub, overwriting any existing entry with the
// same id.
func (h *Hub) InsertStore(e *Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stores[e.ID] = e
}

// RegisterCache attaches c as the cache lifecycle driven for store id by
// BeginFrameCaches, PurgeFractionOfRAM, and store-event routing.
func (h *Hub) RegisterCache(id StoreID, c Caches) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.caches[id] = c
}

// RegisterBlueprintHistory attaches the undo-watermark history GCBlueprints
// consults for id.
func (h *Hub) RegisterBlueprintHistory(id StoreID, hist *BlueprintHistory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blueprintHistory[id] = hist
}

// Store returns the entry for id, if present.
func (h *Hub) Store(id StoreID) (*Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.stores[id]
	return e, ok
}

// RemoveStore drops id from the hub and its cache, closing the owning app if
// this was its last recording, or clearing blueprint bookkeeping that
// pointed at it. The entry's last strong reference is released from a
// spawned goroutine, mirroring the teacher's "drop the store on a separate
// thread to keep the UI thread snappy" (the Go GC does the actual
// reclamation; the goroutine exists so a caller stalled on a large chunk
// map's finalization isn't this call's caller).
func (h *Hub) RemoveStore(id StoreID) {
	h.mu.Lock()
	e, ok := h.stores[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.stores, id)
	delete(h.caches, id)
	delete(h.blueprintHistory, id)
	delete(h.blueprintLastGC, id)

	switch e.Kind {
	case KindRecording:
		stillHasApp := false
		for _, other := range h.stores {
			if other.Kind == KindRecording && other.AppID == e.AppID {
				stillHasApp = true
				break
			}
		}
		if h.activeStore != nil && *h.activeStore == id {
			h.activeStore = nil
		}
		h.mu.Unlock()
		if !stillHasApp {
			h.CloseApp(e.AppID)
		}
	case KindBlueprint:
		for app, bp := range h.activeBlueprintByApp {
			if bp == id {
				delete(h.activeBlueprintByApp, app)
			}
		}
		for app, bp := range h.defaultBlueprintByApp {
			if bp == id {
				delete(h.defaultBlueprintByApp, app)
			}
		}
		h.mu.Unlock()
	default:
		h.mu.Unlock()
	}

	go func(dropped *Entry) { _ = dropped }(e)
}

// RetainRecordings removes every store (recording or blueprint, despite the
// name — mirroring original_source, whose retain_recordings iterates both
// kinds) for which keep returns false.
func (h *Hub) RetainRecordings(keep func(*Entry) bool) {
	h.mu.Lock()
	var toRemove []StoreID
	for id, e := range h.stores {
		if !keep(e) {
			toRemove = append(toRemove, id)
		}
	}
	h.mu.Unlock()
	for _, id := range toRemove {
		h.RemoveStore(id)
	}
}

// PurgeEmpty removes every store with zero chunks.
func (h *Hub) PurgeEmpty() {
	h.RetainRecordings(func(e *Entry) bool { return e.Store.NumChunks() > 0 })
}

// ClearAllClonedBlueprints keeps every recording and every blueprint that
// was not cloned from another (i.e. sent by an SDK, not user-edited).
func (h *Hub) ClearAllClonedBlueprints() {
	h.RetainRecordings(func(e *Entry) bool {
		if e.Kind == KindRecording {
			return true
		}
		return e.ClonedFrom == nil
	})
}

// SetActiveApp changes the active AppID. If the app has no known active
// blueprint yet, a persisted one is loaded via Loader (errors are swallowed
// per spec.md §6.6, which treats the loader as best-effort). The earliest-
// starting recording belonging to appID, if any, becomes the active
// recording.
func (h *Hub) SetActiveApp(appID AppID) {
	h.mu.Lock()

	if _, known := h.activeBlueprintByApp[appID]; !known && h.persistence.Loader != nil {
		if loaded, found, err := h.persistence.Loader(appID); err == nil && found {
			h.stores[loaded.ID] = loaded
			h.activeBlueprintByApp[appID] = loaded.ID
		}
	}

	alreadyActive := h.activeApp != nil && *h.activeApp == appID
	if alreadyActive {
		h.mu.Unlock()
		h.ensureActiveBlueprint(appID)
		return
	}

	app := appID
	h.activeApp = &app
	h.activeStore = nil

	var best *Entry
	for _, e := range h.stores {
		if e.Kind != KindRecording || e.AppID != appID {
			continue
		}
		if best == nil || e.StartTime < best.StartTime {
			best = e
		}
	}
	if best != nil {
		app := appID
		h.activeApp = &app
		id := best.ID
		h.activeStore = &id
	}
	h.mu.Unlock()

	h.ensureActiveBlueprint(appID)
}

// ensureActiveBlueprint clones appID's default blueprint to create an active
// one if appID has a default but no active blueprint (spec.md §4.6: "edits
// never touch the default").
func (h *Hub) ensureActiveBlueprint(appID AppID) {
	h.mu.Lock()
	if _, hasActive := h.activeBlueprintByApp[appID]; hasActive {
		h.mu.Unlock()
		return
	}
	defaultID, hasDefault := h.defaultBlueprintByApp[appID]
	if !hasDefault {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	_ = h.SetClonedBlueprintActiveForApp(defaultID)
}

// CloseApp saves appID's blueprints (best-effort) and removes every store
// belonging to it.
func (h *Hub) CloseApp(appID AppID) {
	h.mu.Lock()
	blueprintID, hasBlueprint := h.activeBlueprintByApp[appID]
	var blueprint *Entry
	if hasBlueprint {
		blueprint = h.stores[blueprintID]
	}
	saver := h.persistence.Saver
	h.mu.Unlock()

	if saver != nil && blueprint != nil {
		_ = saver(appID, blueprint)
	}

	h.mu.Lock()
	var toRemove []StoreID
	for id, e := range h.stores {
		if e.AppID == appID {
			toRemove = append(toRemove, id)
		}
	}
	if h.activeApp != nil && *h.activeApp == appID {
		h.activeApp = nil
		h.activeStore = nil
	}
	h.mu.Unlock()

	for _, id := range toRemove {
		h.RemoveStore(id)
	}
}

// ActiveApp returns the currently active AppID, if any.
func (h *Hub) ActiveApp() (AppID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeApp == nil {
		return "", false
	}
	return *h.activeApp, true
}

// ActiveStoreID returns the active recording's id, if any.
func (h *Hub) ActiveStoreID() (StoreID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeStore == nil {
		return "", false
	}
	return *h.activeStore, true
}

// ActiveRecording returns the active recording's entry, if any.
func (h *Hub) ActiveRecording() (*Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeStore == nil {
		return nil, false
	}
	e, ok := h.stores[*h.activeStore]
	return e, ok
}

// ActiveCaches returns the cache registered for the active recording.
func (h *Hub) ActiveCaches() (Caches, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeStore == nil {
		return nil, false
	}
	c, ok := h.caches[*h.activeStore]
	return c, ok
}

// CachesForStore returns the cache registered for id.
func (h *Hub) CachesForStore(id StoreID) (Caches, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.caches[id]
	return c, ok
}

// SetActiveRecordingID makes id the active recording and its app the active
// app, failing if id is unknown or not a recording.
func (h *Hub) SetActiveRecordingID(id StoreID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.stores[id]
	if !ok {
		return &ErrUnknownStoreID{StoreID: id}
	}
	if e.Kind != KindRecording {
		return &ErrWrongKind{StoreID: id, Want: KindRecording, Got: e.Kind, Activity: "SetActiveRecordingID"}
	}
	h.activeStore = &id
	app := e.AppID
	h.activeApp = &app
	return nil
}

// DefaultBlueprintIDForApp returns appID's default blueprint id, if set.
func (h *Hub) DefaultBlueprintIDForApp(appID AppID) (StoreID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.defaultBlueprintByApp[appID]
	return id, ok
}

// ActiveBlueprintIDForApp returns appID's active blueprint id, if set.
func (h *Hub) ActiveBlueprintIDForApp(appID AppID) (StoreID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.activeBlueprintByApp[appID]
	return id, ok
}

// ActiveBlueprintForApp returns appID's active blueprint entry, if any.
func (h *Hub) ActiveBlueprintForApp(appID AppID) (*Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.activeBlueprintByApp[appID]
	if !ok {
		return nil, false
	}
	e, ok := h.stores[id]
	return e, ok
}

// SetDefaultBlueprintForApp records id as the blueprint the SDK sent for its
// app, failing if id is unknown or not a blueprint.
func (h *Hub) SetDefaultBlueprintForApp(id StoreID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.stores[id]
	if !ok {
		return &ErrUnknownStoreID{StoreID: id}
	}
	if e.Kind != KindBlueprint {
		return &ErrWrongKind{StoreID: id, Want: KindBlueprint, Got: e.Kind, Activity: "SetDefaultBlueprintForApp"}
	}
	h.defaultBlueprintByApp[e.AppID] = id
	return nil
}

// SetClonedBlueprintActiveForApp validates blueprintID, clones its store
// under a fresh id, and makes the clone the active blueprint for its app.
// Edits to the clone never touch blueprintID (spec.md §4.6).
func (h *Hub) SetClonedBlueprintActiveForApp(blueprintID StoreID) error {
	h.mu.Lock()
	blueprint, ok := h.stores[blueprintID]
	if !ok {
		h.mu.Unlock()
		return &ErrUnknownStoreID{StoreID: blueprintID}
	}
	if blueprint.Kind != KindBlueprint {
		h.mu.Unlock()
		return &ErrWrongKind{StoreID: blueprintID, Want: KindBlueprint, Got: blueprint.Kind, Activity: "SetClonedBlueprintActiveForApp"}
	}
	validator := h.persistence.Validator
	h.nextCloneSuffix++
	suffix := h.nextCloneSuffix
	h.mu.Unlock()

	if validator != nil && !validator(blueprint) {
		return &ErrBlueprintValidationFailed{StoreID: blueprintID}
	}

	newID := StoreID(fmt.Sprintf("%s/clone-%d", blueprintID, suffix))
	clonedStore, err := blueprint.Store.Clone(string(newID))
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.stores[newID] = &Entry{
		ID:         newID,
		AppID:      blueprint.AppID,
		Kind:       KindBlueprint,
		Store:      clonedStore,
		ClonedFrom: &blueprintID,
	}
	h.activeBlueprintByApp[blueprint.AppID] = newID
	h.mu.Unlock()
	return nil
}

// IsActiveBlueprint reports whether id is the active blueprint for any app.
func (h *Hub) IsActiveBlueprint(id StoreID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, bp := range h.activeBlueprintByApp {
		if bp == id {
			return true
		}
	}
	return false
}

// ClearActiveBlueprint removes the active app's active blueprint.
func (h *Hub) ClearActiveBlueprint() {
	h.mu.Lock()
	if h.activeApp == nil {
		h.mu.Unlock()
		return
	}
	appID := *h.activeApp
	id, ok := h.activeBlueprintByApp[appID]
	h.mu.Unlock()
	if ok {
		h.RemoveStore(id)
	}
}

// ClearActiveBlueprintAndGenerate clears the active blueprint and flags its
// app to regenerate one from heuristics next frame, leaving the default
// blueprint untouched so the user can still reset to it.
func (h *Hub) ClearActiveBlueprintAndGenerate() {
	h.ClearActiveBlueprint()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeApp != nil {
		h.shouldEnableHeuristics[*h.activeApp] = true
	}
}

// ConsumeShouldEnableHeuristics reports and clears whether appID was flagged
// by ClearActiveBlueprintAndGenerate since the last call.
func (h *Hub) ConsumeShouldEnableHeuristics(appID AppID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.shouldEnableHeuristics[appID]
	delete(h.shouldEnableHeuristics, appID)
	return v
}

// BeginFrameCaches prunes caches whose store no longer exists and advances
// the rest to the next frame (spec.md §4.6/§5).
func (h *Hub) BeginFrameCaches() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.caches {
		if _, ok := h.stores[id]; !ok {
			delete(h.caches, id)
			continue
		}
		c.BeginFrame()
	}
}

// TimeCursorFor reports, for background-recording GC targeting, a
// (timeline, time) cursor to steer FurthestFromCursor eviction by. ok is
// false when the caller has no opinion for storeID.
type TimeCursorFor func(storeID StoreID) (tl timeline.Name, at timeline.Int, ok bool)

// PurgeFractionOfRAM purges every registered cache's memory, then runs a
// fraction-of-bytes GC pass over every background (non-active) recording in
// parallel; if that freed nothing, falls back to the active recording
// (spec.md §4.6). Returns the total bytes freed.
func (h *Hub) PurgeFractionOfRAM(fraction float64, timeCursorFor TimeCursorFor) uint64 {
	h.mu.Lock()
	for _, c := range h.caches {
		c.PurgeMemory()
	}
	activeStore := h.activeStore
	var backgroundIDs []StoreID
	for id, e := range h.stores {
		if e.Kind != KindRecording {
			continue
		}
		if activeStore != nil && id == *activeStore {
			continue
		}
		backgroundIDs = append(backgroundIDs, id)
	}
	h.mu.Unlock()

	var freed atomic.Uint64
	g := new(errgroup.Group)
	for _, id := range backgroundIDs {
		g.Go(func() error {
			freed.Add(h.purgeOneForRAM(fraction, id, timeCursorFor))
			return nil
		})
	}
	_ = g.Wait()

	total := freed.Load()
	if total == 0 && activeStore != nil {
		total += h.purgeOneForRAM(fraction, *activeStore, timeCursorFor)
	}
	return total
}

// purgeOneForRAM runs one recording's GC pass and reconciles its cache,
// removing the store entirely if it ended up empty (and isn't active) or if
// the pass freed nothing and it isn't the hub's last recording.
func (h *Hub) purgeOneForRAM(fraction float64, id StoreID, timeCursorFor TimeCursorFor) uint64 {
	h.mu.Lock()
	e, ok := h.stores[id]
	isActive := h.activeStore != nil && *h.activeStore == id
	numRecordings := 0
	for _, other := range h.stores {
		if other.Kind == KindRecording {
			numRecordings++
		}
	}
	h.mu.Unlock()
	if !ok {
		return 0
	}

	beforeBytes := e.Store.TotalSizeBytes()

	opts := chunkstore.GCOptions{
		Target:     chunkstore.GCTarget{Kind: chunkstore.GCDropAtLeastFraction, Fraction: fraction},
		TimeBudget: DefaultGCTimeBudget,
	}
	if timeCursorFor != nil {
		if tl, at, ok := timeCursorFor(id); ok {
			opts.FurthestFrom = &chunkstore.FurthestFromCursor{Timeline: tl, At: at}
		}
	}
	events, stats, err := e.Store.GC(opts)
	if err != nil {
		return 0
	}

	h.mu.Lock()
	cache := h.caches[id]
	h.mu.Unlock()
	if cache != nil {
		cache.OnStoreEvents(events)
	}

	if e.Store.NumChunks() == 0 && !isActive {
		h.RemoveStore(id)
		return beforeBytes
	}
	if stats.BytesRemoved == 0 && numRecordings > 1 {
		h.RemoveStore(id)
		return beforeBytes
	}
	return stats.BytesRemoved
}

// GCBlueprints runs blueprint GC for every app's default and active
// blueprint whose generation has changed since the last pass, protecting
// everything from the oldest registered undo watermark onward
// (spec.md §4.6). Errors from individual stores are collected, not fatal to
// the rest.
func (h *Hub) GCBlueprints() []error {
	h.mu.Lock()
	ids := map[StoreID]bool{}
	for _, id := range h.activeBlueprintByApp {
		ids[id] = true
	}
	for _, id := range h.defaultBlueprintByApp {
		ids[id] = true
	}
	h.mu.Unlock()

	sorted := make([]StoreID, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var errs []error
	for _, id := range sorted {
		if err := h.gcOneBlueprint(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (h *Hub) gcOneBlueprint(id StoreID) error {
	h.mu.Lock()
	e, ok := h.stores[id]
	history := h.blueprintHistory[id]
	lastGen, hadLastGen := h.blueprintLastGC[id]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	if hadLastGen && lastGen == e.Store.Generation() {
		return nil
	}

	protected := map[timeline.Name]timeline.AbsoluteRange{}
	if history != nil {
		if at, ok := history.OldestUndoPoint(); ok {
			protected[BlueprintTimeline] = timeline.AbsoluteRange{Min: at, Max: timeline.MaxInt}
		}
	}

	events, _, err := e.Store.GC(chunkstore.GCOptions{
		Target:               chunkstore.GCTarget{Kind: chunkstore.GCEverything},
		ProtectLatest:        DefaultProtectLatest,
		ProtectedTimeRanges:  protected,
		TimeBudget:           DefaultGCTimeBudget,
		PerformDeepDeletions: true,
	})
	if err != nil {
		return err
	}
	if len(events) > 0 {
		h.mu.Lock()
		cache := h.caches[id]
		h.mu.Unlock()
		if cache != nil {
			cache.OnStoreEvents(events)
		}
	}

	h.mu.Lock()
	h.blueprintLastGC[id] = e.Store.Generation()
	h.mu.Unlock()
	return nil
}

// StoreStats summarizes one store's footprint, for a memory panel.
type StoreStats struct {
	ID        StoreID
	Kind      Kind
	NumChunks int
	SizeBytes uint64
}

// Stats returns a StoreStats snapshot for every store the hub owns, sorted
// by id.
func (h *Hub) Stats() []StoreStats {
	h.mu.Lock()
	ids := make([]StoreID, 0, len(h.stores))
	entries := make(map[StoreID]*Entry, len(h.stores))
	for id, e := range h.stores {
		ids = append(ids, id)
		entries[id] = e
	}
	h.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]StoreStats, len(ids))
	for i, id := range ids {
		e := entries[id]
		out[i] = StoreStats{ID: id, Kind: e.Kind, NumChunks: e.Store.NumChunks(), SizeBytes: e.Store.TotalSizeBytes()}
	}
	return out
}
