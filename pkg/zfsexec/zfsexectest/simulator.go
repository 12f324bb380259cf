// In-memory stand-in for the zfs command line tool, for tests of code that drives zfs
// through zfsexec.Executor. Understands the subset of subcommands & flags we use.
package zfsexectest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/function61/siirto/pkg/zfsexec"
)

type dataset struct {
	name       string
	properties map[string]string // locally set ones
	snapshots  []string          // oldest first
}

type injectedFailure struct {
	match func(args []string) bool
	err   error
}

type Simulator struct {
	datasets    map[string]*dataset
	invocations []string
	failures    []injectedFailure
	mu          sync.Mutex

	ReaderCloses int
	WriterCloses int
}

var _ zfsexec.Executor = (*Simulator)(nil)

// pools start out with just their root dataset, mounted at /<pool>
func NewSimulator(pools ...string) *Simulator {
	s := &Simulator{
		datasets: map[string]*dataset{},
	}

	for _, pool := range pools {
		s.datasets[pool] = newDataset(pool)
	}

	return s
}

// all subsequent invocations for which match() returns true fail with err
func (s *Simulator) FailWhen(match func(args []string) bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = append(s.failures, injectedFailure{match, err})
}

// matcher for FailWhen()
func Subcommand(subcommand string) func(args []string) bool {
	return func(args []string) bool {
		return len(args) > 0 && args[0] == subcommand
	}
}

// each invocation as one space-joined string, in order
func (s *Simulator) Invocations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string{}, s.invocations...)
}

func (s *Simulator) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.datasets[name]
	return exists
}

// effective value, taking inheritance into account
func (s *Simulator) Property(name string, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.effectiveProperty(name, key)
}

// true if the property is set on the dataset itself, i.e. not inherited or default
func (s *Simulator) PropertyIsLocal(name string, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, exists := s.datasets[name]
	if !exists {
		return false
	}

	_, local := ds.properties[key]
	return local
}

func (s *Simulator) Snapshots(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, exists := s.datasets[name]
	if !exists {
		return nil
	}

	return append([]string{}, ds.snapshots...)
}

func (s *Simulator) RunAsync(args ...string) *zfsexec.Future {
	return zfsexec.Resolved(s.run(args))
}

func (s *Simulator) RunBestEffort(args ...string) {
	_, _ = s.run(args)
}

func (s *Simulator) OpenReader(args ...string) (io.ReadCloser, error) {
	stream, err := s.run(args)
	if err != nil {
		return nil, err
	}

	return &simReader{Reader: bytes.NewReader(stream), sim: s}, nil
}

func (s *Simulator) OpenWriter(args ...string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invocations = append(s.invocations, strings.Join(args, " "))

	if err := s.injectedFailure(args); err != nil {
		return nil, err
	}

	if len(args) == 0 || args[0] != "receive" {
		return nil, badArguments(args)
	}

	return &simWriter{args: args, sim: s}, nil
}

type simReader struct {
	*bytes.Reader
	sim *Simulator
}

func (r *simReader) Close() error {
	r.sim.mu.Lock()
	defer r.sim.mu.Unlock()

	r.sim.ReaderCloses++

	return nil
}

type simWriter struct {
	args []string
	buf  bytes.Buffer
	sim  *Simulator
}

func (w *simWriter) Write(data []byte) (int, error) {
	return w.buf.Write(data)
}

// the receive gets applied when the stream ends, like with the real thing
func (w *simWriter) Close() error {
	w.sim.mu.Lock()
	defer w.sim.mu.Unlock()

	w.sim.WriterCloses++

	return w.sim.receive(w.args, w.buf.Bytes())
}

func (s *Simulator) run(args []string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invocations = append(s.invocations, strings.Join(args, " "))

	if err := s.injectedFailure(args); err != nil {
		return nil, err
	}

	if len(args) == 0 {
		return nil, badArguments(args)
	}

	switch args[0] {
	case "list":
		return s.list(args)
	case "create":
		return nil, s.create(args)
	case "snapshot":
		return nil, s.snapshot(args)
	case "clone":
		return nil, s.clone(args)
	case "rename":
		return nil, s.rename(args)
	case "set":
		return nil, s.set(args)
	case "inherit":
		return nil, s.inherit(args)
	case "send":
		return s.send(args)
	default:
		return nil, badArguments(args)
	}
}

func (s *Simulator) injectedFailure(args []string) error {
	for _, failure := range s.failures {
		if failure.match(args) {
			return failure.err
		}
	}

	return nil
}

func (s *Simulator) list(args []string) ([]byte, error) {
	switch {
	case len(args) == 2:
		if _, exists := s.datasets[args[1]]; !exists {
			return nil, commandFailed(args)
		}

		return []byte(fmt.Sprintf("%s\t0B\t-\n", args[1])), nil
	case len(args) == 10 && args[4] == "snapshot":
		return s.listSnapshots(args)
	case len(args) == 7 && args[1] == "-d" && args[2] == "1":
		return s.listChildren(args)
	default:
		return nil, badArguments(args)
	}
}

func (s *Simulator) listSnapshots(args []string) ([]byte, error) {
	root := args[len(args)-1]
	if _, exists := s.datasets[root]; !exists {
		return nil, commandFailed(args)
	}

	output := &bytes.Buffer{}
	for _, name := range s.sortedNames() {
		if name != root && !strings.HasPrefix(name, root+"/") {
			continue
		}

		for _, snap := range s.datasets[name].snapshots {
			fmt.Fprintf(output, "%s@%s\n", name, snap)
		}
	}

	return output.Bytes(), nil
}

func (s *Simulator) listChildren(args []string) ([]byte, error) {
	root := args[len(args)-1]
	if _, exists := s.datasets[root]; !exists {
		return nil, commandFailed(args)
	}

	output := &bytes.Buffer{}
	for _, name := range s.sortedNames() {
		if name != root && path.Dir(name) != root {
			continue
		}

		fmt.Fprintf(output, "%s\t%s\n", name, s.effectiveProperty(name, "mountpoint"))
	}

	return output.Bytes(), nil
}

func (s *Simulator) create(args []string) error {
	properties := map[string]string{}

	rest := args[1:]
	for len(rest) >= 2 && rest[0] == "-o" {
		key, value, ok := strings.Cut(rest[1], "=")
		if !ok {
			return badArguments(args)
		}
		properties[key] = value
		rest = rest[2:]
	}

	if len(rest) != 1 {
		return badArguments(args)
	}

	if err := s.checkCanCreate(args, rest[0]); err != nil {
		return err
	}

	ds := newDataset(rest[0])
	ds.properties = properties
	s.datasets[ds.name] = ds

	return nil
}

func (s *Simulator) snapshot(args []string) error {
	if len(args) != 2 {
		return badArguments(args)
	}

	name, snap, ok := strings.Cut(args[1], "@")
	if !ok {
		return badArguments(args)
	}

	ds, exists := s.datasets[name]
	if !exists || ds.hasSnapshot(snap) {
		return commandFailed(args)
	}

	ds.snapshots = append(ds.snapshots, snap)

	return nil
}

func (s *Simulator) clone(args []string) error {
	if len(args) != 3 {
		return badArguments(args)
	}

	origin, snap, ok := strings.Cut(args[1], "@")
	if !ok {
		return badArguments(args)
	}

	originDs, exists := s.datasets[origin]
	if !exists || !originDs.hasSnapshot(snap) {
		return commandFailed(args)
	}

	if err := s.checkCanCreate(args, args[2]); err != nil {
		return err
	}

	s.datasets[args[2]] = newDataset(args[2])

	return nil
}

func (s *Simulator) rename(args []string) error {
	if len(args) != 3 {
		return badArguments(args)
	}

	from, to := args[1], args[2]

	if _, exists := s.datasets[from]; !exists {
		return commandFailed(args)
	}

	if err := s.checkCanCreate(args, to); err != nil {
		return err
	}

	for _, name := range s.sortedNames() {
		if name != from && !strings.HasPrefix(name, from+"/") {
			continue
		}

		ds := s.datasets[name]
		delete(s.datasets, name)
		ds.name = to + strings.TrimPrefix(name, from)
		s.datasets[ds.name] = ds
	}

	return nil
}

func (s *Simulator) set(args []string) error {
	if len(args) != 3 {
		return badArguments(args)
	}

	key, value, ok := strings.Cut(args[1], "=")
	if !ok {
		return badArguments(args)
	}

	ds, exists := s.datasets[args[2]]
	if !exists {
		return commandFailed(args)
	}

	ds.properties[key] = value

	return nil
}

func (s *Simulator) inherit(args []string) error {
	if len(args) != 3 {
		return badArguments(args)
	}

	ds, exists := s.datasets[args[2]]
	if !exists {
		return commandFailed(args)
	}

	delete(ds.properties, args[1])

	return nil
}

// stream format (nothing like the real one):
//
//	SIMSTREAM
//	from <basis snapshot>   (only for incremental)
//	to <snapshot>
func (s *Simulator) send(args []string) ([]byte, error) {
	from := ""
	rest := args[1:]
	if len(rest) == 3 && rest[0] == "-i" {
		from = rest[1]
		rest = rest[2:]
	}

	if len(rest) != 1 {
		return nil, badArguments(args)
	}

	name, to, ok := strings.Cut(rest[0], "@")
	if !ok {
		return nil, badArguments(args)
	}

	ds, exists := s.datasets[name]
	if !exists || !ds.hasSnapshot(to) {
		return nil, commandFailed(args)
	}

	stream := &bytes.Buffer{}
	stream.WriteString("SIMSTREAM\n")

	if from != "" {
		fromName, fromSnap, ok := strings.Cut(from, "@")
		if !ok || fromName != name || !ds.hasSnapshot(fromSnap) {
			return nil, commandFailed(args)
		}

		fmt.Fprintf(stream, "from %s\n", fromSnap)
	}

	fmt.Fprintf(stream, "to %s\n", to)

	return stream.Bytes(), nil
}

func (s *Simulator) receive(args []string, stream []byte) error {
	force := false
	rest := args[1:]
	if len(rest) == 2 && rest[0] == "-F" {
		force = true
		rest = rest[1:]
	}

	if len(rest) != 1 {
		return badArguments(args)
	}

	name := rest[0]

	from, to, err := parseStream(stream)
	if err != nil {
		return commandFailed(args)
	}

	if from == "" { // full
		if err := s.checkCanCreate(args, name); err != nil {
			return err
		}

		ds := newDataset(name)
		ds.snapshots = []string{to}
		s.datasets[name] = ds

		return nil
	}

	ds, exists := s.datasets[name]
	if !exists {
		return commandFailed(args)
	}

	basisIdx := ds.snapshotIndex(from)
	if basisIdx == -1 || ds.hasSnapshot(to) {
		return commandFailed(args)
	}

	if basisIdx != len(ds.snapshots)-1 {
		if !force {
			return commandFailed(args)
		}

		ds.snapshots = ds.snapshots[:basisIdx+1]
	}

	ds.snapshots = append(ds.snapshots, to)
	delete(ds.properties, "mountpoint") // receive resets it

	return nil
}

func parseStream(stream []byte) (string, string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(stream))

	if !scanner.Scan() || scanner.Text() != "SIMSTREAM" {
		return "", "", fmt.Errorf("not a stream")
	}

	from, to := "", ""
	for scanner.Scan() {
		key, value, _ := strings.Cut(scanner.Text(), " ")
		switch key {
		case "from":
			from = value
		case "to":
			to = value
		}
	}

	if to == "" {
		return "", "", fmt.Errorf("stream without target snapshot")
	}

	return from, to, nil
}

func (s *Simulator) checkCanCreate(args []string, name string) error {
	if _, exists := s.datasets[name]; exists {
		return commandFailed(args)
	}

	if _, parentExists := s.datasets[path.Dir(name)]; !parentExists {
		return commandFailed(args)
	}

	return nil
}

func (s *Simulator) effectiveProperty(name string, key string) string {
	ds, exists := s.datasets[name]
	if !exists {
		return ""
	}

	if value, local := ds.properties[key]; local {
		return value
	}

	isRoot := !strings.Contains(name, "/")

	switch {
	case key == "mountpoint" && isRoot:
		return "/" + name
	case key == "mountpoint":
		return path.Join(s.effectiveProperty(path.Dir(name), key), path.Base(name))
	case key == "canmount": // not inheritable
		return "on"
	case isRoot:
		return "off"
	default:
		return s.effectiveProperty(path.Dir(name), key)
	}
}

func (s *Simulator) sortedNames() []string {
	names := []string{}
	for name := range s.datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func newDataset(name string) *dataset {
	return &dataset{
		name:       name,
		properties: map[string]string{},
		snapshots:  []string{},
	}
}

func (d *dataset) hasSnapshot(snap string) bool {
	return d.snapshotIndex(snap) != -1
}

func (d *dataset) snapshotIndex(snap string) int {
	for idx, existing := range d.snapshots {
		if existing == snap {
			return idx
		}
	}

	return -1
}

func commandFailed(args []string) error {
	return fmt.Errorf("zfs %s: %w", strings.Join(args, " "), zfsexec.ErrCommandFailed)
}

func badArguments(args []string) error {
	return fmt.Errorf("zfs %s: %w", strings.Join(args, " "), zfsexec.ErrBadArguments)
}
