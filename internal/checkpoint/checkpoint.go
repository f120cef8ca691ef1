// Package checkpoint persists the full sampler state to a SQLite file so a
// run can be resumed after a failure or continued incrementally.
//
// The file is self-describing: a meta key/value table carries the format
// version, run identity, dimension, chain count, generation counter,
// acceptance counters and every hyperparameter, while the population and
// history tables carry the chain states and the full generation log. A
// reader needs no side information beyond (optionally) the expected
// dimension.
//
// Only the root worker writes checkpoints; concurrent writers to one path
// would corrupt the file. Saves go through a temp file and a rename so a
// crash mid-save leaves the previous checkpoint intact.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dreamware/demc/internal/chain"
	"github.com/dreamware/demc/internal/history"
)

// FormatVersion is bumped on incompatible schema changes.
const FormatVersion = 1

// ErrFormat marks a checkpoint file that is unreadable, missing required
// fields, or inconsistent with the caller's expectations.
var ErrFormat = errors.New("checkpoint format error")

// Hyper is the proposal-distribution configuration stored alongside the
// chains. Warm starts adopt these values so the resumed sampler proposes
// exactly as the saved one did.
type Hyper struct {
	Algorithm      string    `json:"algorithm"`
	Inflate        float64   `json:"inflate"`
	CrossoverProbs []float64 `json:"crossover_probs"`
	SnookerProb    float64   `json:"snooker_prob"`
	Varepsilon     float64   `json:"varepsilon"`
	BurninGen      int       `json:"burnin_gen"`
	Seed           int64     `json:"seed"`
}

// State is everything needed to reconstruct an equivalent sampler.
type State struct {
	RunID      string
	Dim        int
	NChains    int
	Generation int
	Proposed   uint64
	Accepted   uint64
	Hyper      Hyper
	Population []chain.State
	History    []history.Record
}

const schema = `
CREATE TABLE meta (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE population (
  chain_id    INTEGER PRIMARY KEY,
  params      TEXT NOT NULL,
  log_density TEXT NOT NULL
);
CREATE TABLE history (
  generation  INTEGER NOT NULL,
  chain_id    INTEGER NOT NULL,
  params      TEXT NOT NULL,
  log_density TEXT NOT NULL,
  accepted    INTEGER NOT NULL,
  PRIMARY KEY (generation, chain_id)
);
`

// Save writes the state to path, replacing any previous checkpoint there.
// The write is atomic: a crash mid-save cannot destroy the old file.
func Save(path string, st State) error {
	if path == "" {
		return fmt.Errorf("checkpoint path is required")
	}
	if len(st.Population) != st.NChains {
		return fmt.Errorf("population has %d chains, state says %d", len(st.Population), st.NChains)
	}

	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("open checkpoint db: %w", err)
	}
	if err := writeAll(db, st); err != nil {
		_ = db.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close checkpoint db: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

func writeAll(db *sql.DB, st State) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	crossover, err := json.Marshal(st.Hyper.CrossoverProbs)
	if err != nil {
		return fmt.Errorf("encode crossover set: %w", err)
	}
	meta := map[string]string{
		"format_version":  strconv.Itoa(FormatVersion),
		"run_id":          st.RunID,
		"dim":             strconv.Itoa(st.Dim),
		"n_chains":        strconv.Itoa(st.NChains),
		"generation":      strconv.Itoa(st.Generation),
		"proposed":        strconv.FormatUint(st.Proposed, 10),
		"accepted":        strconv.FormatUint(st.Accepted, 10),
		"algorithm":       st.Hyper.Algorithm,
		"inflate":         formatFloat(st.Hyper.Inflate),
		"crossover_probs": string(crossover),
		"snooker_prob":    formatFloat(st.Hyper.SnookerProb),
		"varepsilon":      formatFloat(st.Hyper.Varepsilon),
		"burnin_gen":      strconv.Itoa(st.Hyper.BurninGen),
		"seed":            strconv.FormatInt(st.Hyper.Seed, 10),
		"saved_at":        time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	for id, s := range st.Population {
		params, err := json.Marshal(s.Params)
		if err != nil {
			return fmt.Errorf("encode chain %d params: %w", id, err)
		}
		_, err = tx.Exec(
			`INSERT INTO population (chain_id, params, log_density) VALUES (?, ?, ?)`,
			id, string(params), formatFloat(s.LogP),
		)
		if err != nil {
			return fmt.Errorf("write chain %d: %w", id, err)
		}
	}

	for _, r := range st.History {
		params, err := json.Marshal(r.Params)
		if err != nil {
			return fmt.Errorf("encode history row: %w", err)
		}
		accepted := 0
		if r.Accepted {
			accepted = 1
		}
		_, err = tx.Exec(
			`INSERT INTO history (generation, chain_id, params, log_density, accepted)
			 VALUES (?, ?, ?, ?, ?)`,
			r.Generation, r.ChainID, string(params), formatFloat(r.LogP), accepted,
		)
		if err != nil {
			return fmt.Errorf("write history row (%d, %d): %w", r.Generation, r.ChainID, err)
		}
	}

	return tx.Commit()
}

// Load reads a checkpoint. wantDim, when non-zero, must match the stored
// dimension; a mismatch is an ErrFormat since resuming with the wrong
// dimension would silently corrupt the run.
func Load(path string, wantDim int) (State, error) {
	if _, err := os.Stat(path); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return State{}, fmt.Errorf("%w: open: %v", ErrFormat, err)
	}
	defer db.Close()

	st, err := readAll(db)
	if err != nil {
		return State{}, err
	}
	if wantDim != 0 && wantDim != st.Dim {
		return State{}, fmt.Errorf("%w: dimension mismatch: checkpoint has %d, caller wants %d",
			ErrFormat, st.Dim, wantDim)
	}
	return st, nil
}

func readAll(db *sql.DB) (State, error) {
	meta := make(map[string]string)
	rows, err := db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return State{}, fmt.Errorf("%w: read meta: %v", ErrFormat, err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return State{}, fmt.Errorf("%w: scan meta: %v", ErrFormat, err)
		}
		meta[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("%w: read meta: %v", ErrFormat, err)
	}

	required := []string{
		"format_version", "dim", "n_chains", "generation",
		"proposed", "accepted", "algorithm", "inflate",
		"crossover_probs", "snooker_prob", "varepsilon", "burnin_gen", "seed",
	}
	for _, k := range required {
		if _, ok := meta[k]; !ok {
			return State{}, fmt.Errorf("%w: missing meta field %q", ErrFormat, k)
		}
	}

	version, err := strconv.Atoi(meta["format_version"])
	if err != nil || version != FormatVersion {
		return State{}, fmt.Errorf("%w: unsupported format version %q", ErrFormat, meta["format_version"])
	}

	var st State
	st.RunID = meta["run_id"]
	if st.Dim, err = strconv.Atoi(meta["dim"]); err != nil || st.Dim < 1 {
		return State{}, fmt.Errorf("%w: bad dim %q", ErrFormat, meta["dim"])
	}
	if st.NChains, err = strconv.Atoi(meta["n_chains"]); err != nil || st.NChains < 2 {
		return State{}, fmt.Errorf("%w: bad n_chains %q", ErrFormat, meta["n_chains"])
	}
	if st.Generation, err = strconv.Atoi(meta["generation"]); err != nil || st.Generation < 0 {
		return State{}, fmt.Errorf("%w: bad generation %q", ErrFormat, meta["generation"])
	}
	if st.Proposed, err = strconv.ParseUint(meta["proposed"], 10, 64); err != nil {
		return State{}, fmt.Errorf("%w: bad proposed count %q", ErrFormat, meta["proposed"])
	}
	if st.Accepted, err = strconv.ParseUint(meta["accepted"], 10, 64); err != nil {
		return State{}, fmt.Errorf("%w: bad accepted count %q", ErrFormat, meta["accepted"])
	}

	st.Hyper.Algorithm = meta["algorithm"]
	if st.Hyper.Inflate, err = parseFloat(meta["inflate"]); err != nil {
		return State{}, fmt.Errorf("%w: bad inflate %q", ErrFormat, meta["inflate"])
	}
	if err = json.Unmarshal([]byte(meta["crossover_probs"]), &st.Hyper.CrossoverProbs); err != nil {
		return State{}, fmt.Errorf("%w: bad crossover set %q", ErrFormat, meta["crossover_probs"])
	}
	if st.Hyper.SnookerProb, err = parseFloat(meta["snooker_prob"]); err != nil {
		return State{}, fmt.Errorf("%w: bad snooker probability %q", ErrFormat, meta["snooker_prob"])
	}
	if st.Hyper.Varepsilon, err = parseFloat(meta["varepsilon"]); err != nil {
		return State{}, fmt.Errorf("%w: bad varepsilon %q", ErrFormat, meta["varepsilon"])
	}
	if st.Hyper.BurninGen, err = strconv.Atoi(meta["burnin_gen"]); err != nil {
		return State{}, fmt.Errorf("%w: bad burnin_gen %q", ErrFormat, meta["burnin_gen"])
	}
	if st.Hyper.Seed, err = strconv.ParseInt(meta["seed"], 10, 64); err != nil {
		return State{}, fmt.Errorf("%w: bad seed %q", ErrFormat, meta["seed"])
	}

	if st.Population, err = readPopulation(db, st.NChains, st.Dim); err != nil {
		return State{}, err
	}
	if st.History, err = readHistory(db, st.Dim); err != nil {
		return State{}, err
	}
	return st, nil
}

func readPopulation(db *sql.DB, nChains, dim int) ([]chain.State, error) {
	rows, err := db.Query(`SELECT chain_id, params, log_density FROM population ORDER BY chain_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: read population: %v", ErrFormat, err)
	}
	defer rows.Close()

	states := make([]chain.State, 0, nChains)
	for rows.Next() {
		var id int
		var paramsJSON, logp string
		if err := rows.Scan(&id, &paramsJSON, &logp); err != nil {
			return nil, fmt.Errorf("%w: scan population: %v", ErrFormat, err)
		}
		if id != len(states) {
			return nil, fmt.Errorf("%w: population has gap at chain %d", ErrFormat, len(states))
		}
		s, err := decodeState(paramsJSON, logp, dim)
		if err != nil {
			return nil, fmt.Errorf("%w: chain %d: %v", ErrFormat, id, err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read population: %v", ErrFormat, err)
	}
	if len(states) != nChains {
		return nil, fmt.Errorf("%w: population has %d chains, meta says %d", ErrFormat, len(states), nChains)
	}
	return states, nil
}

func readHistory(db *sql.DB, dim int) ([]history.Record, error) {
	rows, err := db.Query(
		`SELECT generation, chain_id, params, log_density, accepted
		 FROM history ORDER BY generation, chain_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: read history: %v", ErrFormat, err)
	}
	defer rows.Close()

	var recs []history.Record
	for rows.Next() {
		var gen, id, accepted int
		var paramsJSON, logp string
		if err := rows.Scan(&gen, &id, &paramsJSON, &logp, &accepted); err != nil {
			return nil, fmt.Errorf("%w: scan history: %v", ErrFormat, err)
		}
		s, err := decodeState(paramsJSON, logp, dim)
		if err != nil {
			return nil, fmt.Errorf("%w: history row (%d, %d): %v", ErrFormat, gen, id, err)
		}
		recs = append(recs, history.Record{
			Generation: gen,
			ChainID:    id,
			Params:     s.Params,
			LogP:       s.LogP,
			Accepted:   accepted != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read history: %v", ErrFormat, err)
	}
	return recs, nil
}

func decodeState(paramsJSON, logp string, dim int) (chain.State, error) {
	var params []float64
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return chain.State{}, fmt.Errorf("decode params: %v", err)
	}
	if len(params) != dim {
		return chain.State{}, fmt.Errorf("dimension %d, want %d", len(params), dim)
	}
	lp, err := parseFloat(logp)
	if err != nil {
		return chain.State{}, fmt.Errorf("decode log-density %q: %v", logp, err)
	}
	return chain.State{Params: params, LogP: lp}, nil
}

// formatFloat/parseFloat round-trip floats as text. Log-densities can be
// -Inf, which neither JSON nor a SQLite literal can carry, so the column is
// TEXT throughout.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
