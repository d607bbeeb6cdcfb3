// Package loadtest drives an orchestrator with concurrent writers and readers
// to measure dispatch latency and check that no record is lost or reordered
// on the way to the store.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/state"
	"github.com/kpfarm/farmbook/internal/syncer"
)

// Options controls the shape of a run.
type Options struct {
	// Writers each dispatch OpsPerWriter actions
	Writers      int
	OpsPerWriter int

	// Readers poll the state and recompute totals until the writers finish
	Readers int

	// Seed makes the generated records reproducible
	Seed int64
}

// DefaultOptions returns a small run suitable for a laptop.
func DefaultOptions() Options {
	return Options{Writers: 8, OpsPerWriter: 100, Readers: 4, Seed: 42}
}

// LatencyStats summarizes a set of timed operations.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Result is the outcome of Run.
type Result struct {
	Dispatch LatencyStats
	Read     LatencyStats
	// Flush is the time the writer needed to drain after the last dispatch
	Flush time.Duration

	Transactions int
	Tasks        int
}

// Fprint writes the result as an aligned report.
func (r *Result) Fprint(w io.Writer) {
	fmt.Fprintf(w, "Records written: %d transactions, %d tasks\n", r.Transactions, r.Tasks)
	fmt.Fprintf(w, "Drain after last dispatch: %v\n\n", r.Flush)
	r.Dispatch.fprint(w, "Dispatch")
	fmt.Fprintln(w)
	r.Read.fprint(w, "State read")
}

func (s LatencyStats) fprint(w io.Writer, title string) {
	fmt.Fprintf(w, "%s latency (%d samples):\n", title, s.Count)
	fmt.Fprintf(w, "  Min:          %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median): %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:         %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:          %v\n", s.P95)
	fmt.Fprintf(w, "  P99:          %v\n", s.P99)
	fmt.Fprintf(w, "  Max:          %v\n", s.Max)
}

var (
	dairyCategories   = []string{"Milk Sales", "Feed", "Veterinary", "Labour", "Equipment"}
	poultryCategories = []string{"Egg Sales", "Broiler Sales", "Feed", "Vaccines", "Chicks"}
	choreTitles       = []string{"Clean pens", "Collect eggs", "Milk herd", "Order feed", "Vet visit"}
)

// GenerateTransactions returns n valid transactions spread over both
// enterprises and the last 90 days. The same seed gives the same records.
func GenerateTransactions(n int, seed int64) []schema.Transaction {
	rng := rand.New(rand.NewSource(seed))
	base := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -90)

	txs := make([]schema.Transaction, n)
	for i := range txs {
		et := schema.LivestockTypes[i%len(schema.LivestockTypes)]
		cats := dairyCategories
		if et == schema.Poultry {
			cats = poultryCategories
		}
		dir := schema.Expense
		// roughly a third income
		if rng.Intn(3) == 0 {
			dir = schema.Income
		}
		txs[i] = schema.Transaction{
			ID:             fmt.Sprintf("load-tx-%05d", i),
			Date:           base.AddDate(0, 0, rng.Intn(90)),
			EnterpriseType: et,
			Direction:      dir,
			Category:       cats[rng.Intn(len(cats))],
			Amount:         decimal.New(int64(rng.Intn(500000)+100), -2),
			Description:    fmt.Sprintf("generated record %d", i),
		}
	}
	return txs
}

// GenerateTasks returns n pending tasks over the next 30 days.
func GenerateTasks(n int, seed int64) []schema.Task {
	rng := rand.New(rand.NewSource(seed))
	base := time.Now().UTC().Truncate(24 * time.Hour)
	ets := []schema.EnterpriseType{schema.Dairy, schema.Poultry, schema.General}
	prios := []schema.Priority{schema.Low, schema.Medium, schema.Medium, schema.High}

	tasks := make([]schema.Task, n)
	for i := range tasks {
		tasks[i] = schema.Task{
			ID:             fmt.Sprintf("load-task-%05d", i),
			Title:          choreTitles[rng.Intn(len(choreTitles))],
			Date:           base.AddDate(0, 0, rng.Intn(30)),
			EnterpriseType: ets[i%len(ets)],
			Status:         schema.Pending,
			Priority:       prios[rng.Intn(len(prios))],
		}
		if rng.Intn(2) == 0 {
			tasks[i].Time = fmt.Sprintf("%02d:%02d", 5+rng.Intn(14), 15*rng.Intn(4))
		}
	}
	return tasks
}

// Run dispatches generated records from opts.Writers goroutines while
// opts.Readers goroutines read the state, then waits for the writer to drain
// and verifies the result.
//
// Every fourth action of a writer is a task; the rest are transactions.
func Run(ctx context.Context, o *syncer.Orchestrator, opts Options) (*Result, error) {
	if opts.Writers <= 0 || opts.OpsPerWriter <= 0 {
		return nil, fmt.Errorf("writers and ops per writer must be positive")
	}

	before := o.State()
	total := opts.Writers * opts.OpsPerWriter
	nTasks := 0
	for j := 0; j < opts.OpsPerWriter; j++ {
		if j%4 == 3 {
			nTasks++
		}
	}
	nTasks *= opts.Writers
	txs := GenerateTransactions(total-nTasks, opts.Seed)
	tasks := GenerateTasks(nTasks, opts.Seed+1)
	for i := range txs {
		txs[i].ID = fmt.Sprintf("%s-%d", txs[i].ID, opts.Seed)
	}
	for i := range tasks {
		tasks[i].ID = fmt.Sprintf("%s-%d", tasks[i].ID, opts.Seed)
	}

	readCtx, stopReaders := context.WithCancel(ctx)
	defer stopReaders()

	var readWG sync.WaitGroup
	readResults := make(chan []time.Duration, opts.Readers)
	for i := 0; i < opts.Readers; i++ {
		readWG.Add(1)
		go func() {
			defer readWG.Done()
			var durations []time.Duration
			for readCtx.Err() == nil {
				start := time.Now()
				s := o.State()
				for _, et := range schema.LivestockTypes {
					schema.Sum(o.TransactionsFor(et))
				}
				_ = len(s.Tasks)
				durations = append(durations, time.Since(start))
				time.Sleep(time.Millisecond)
			}
			readResults <- durations
		}()
	}

	var writeWG sync.WaitGroup
	writeResults := make(chan []time.Duration, opts.Writers)
	var nextTx, nextTask int
	var idMu sync.Mutex
	for w := 0; w < opts.Writers; w++ {
		writeWG.Add(1)
		go func() {
			defer writeWG.Done()
			durations := make([]time.Duration, 0, opts.OpsPerWriter)
			for j := 0; j < opts.OpsPerWriter; j++ {
				var action state.Action
				idMu.Lock()
				if j%4 == 3 {
					action = state.AddTask{Task: tasks[nextTask]}
					nextTask++
				} else {
					action = state.AddTransaction{Transaction: txs[nextTx]}
					nextTx++
				}
				idMu.Unlock()

				start := time.Now()
				o.Dispatch(action)
				durations = append(durations, time.Since(start))
			}
			writeResults <- durations
		}()
	}

	writeWG.Wait()
	close(writeResults)
	flushStart := time.Now()
	if err := o.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to drain writes: %w", err)
	}
	flush := time.Since(flushStart)

	stopReaders()
	readWG.Wait()
	close(readResults)

	res := &Result{
		Dispatch:     computeLatencyStats(collect(writeResults)),
		Read:         computeLatencyStats(collect(readResults)),
		Flush:        flush,
		Transactions: len(txs),
		Tasks:        len(tasks),
	}
	if err := Verify(o.State(), before, txs, tasks); err != nil {
		return res, err
	}
	return res, nil
}

// Verify checks that after holds everything in before plus every generated
// record exactly once, with no empty ids.
func Verify(after, before schema.State, txs []schema.Transaction, tasks []schema.Task) error {
	if got, want := len(after.Transactions), len(before.Transactions)+len(txs); got != want {
		return fmt.Errorf("found %d transactions, want %d", got, want)
	}
	if got, want := len(after.Tasks), len(before.Tasks)+len(tasks); got != want {
		return fmt.Errorf("found %d tasks, want %d", got, want)
	}

	seen := make(map[string]int, len(after.Transactions))
	for _, tx := range after.Transactions {
		if tx.ID == "" {
			return fmt.Errorf("found transaction with empty id")
		}
		seen[tx.ID]++
	}
	for _, tx := range txs {
		if seen[tx.ID] != 1 {
			return fmt.Errorf("transaction %s present %d times", tx.ID, seen[tx.ID])
		}
	}

	seen = make(map[string]int, len(after.Tasks))
	for _, t := range after.Tasks {
		if t.ID == "" {
			return fmt.Errorf("found task with empty id")
		}
		seen[t.ID]++
	}
	for _, t := range tasks {
		if seen[t.ID] != 1 {
			return fmt.Errorf("task %s present %d times", t.ID, seen[t.ID])
		}
	}
	return nil
}

func collect(ch <-chan []time.Duration) []time.Duration {
	var all []time.Duration
	for d := range ch {
		all = append(all, d...)
	}
	return all
}

func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}
