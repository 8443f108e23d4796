// Package wizard guides an operator through a run configuration when
// the command line left gaps. Prompts default to whatever the flags
// already carry, every answer can be revisited in the review step, and
// the whole flow is cancellable through context.
package wizard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
	"github.com/ot2i7ba/UFEDMapper/pkg/plotdata"
)

// DefaultKMLFile is offered when the directory holds no exports and the
// operator just presses Enter.
const DefaultKMLFile = "Locations.kml"

// DefaultPrefix names output artifacts when the operator supplies none.
const DefaultPrefix = "UFEDMapper"

// Defaults carries the starting values presented by the wizard so
// operators can speed through with Enter while still being free to
// change any answer. It holds only what a run needs, not every flag.
type Defaults struct {
	KMLPath    string
	Prefix     string
	Plots      string // comma-separated kinds, or "all"
	FromText   string // DD.MM.YYYY or empty
	ToText     string
	DBType     string
	DBPath     string
	DBConn     string
	PGHost     string
	PGPort     string
	PGUser     string
	PGPassword string
	PGDatabase string
	OutDir     string
}

// Result is the completed configuration handed back to the caller. The
// wizard never starts the pipeline itself; returning plain values keeps
// it testable against scripted input.
type Result struct {
	KMLPath string
	Prefix  string
	Kinds   []plotdata.Kind
	From    *time.Time
	To      *time.Time
	DBType  string
	DBPath  string
	DBConn  string
	OutDir  string
}

// colorTheme is the lightweight ANSI palette for prompts. It lives here
// instead of a shared package so the wizard stays decoupled from CLI
// formatting internals.
type colorTheme struct {
	Enabled bool
	Accent  string
	Prompt  string
	Success string
	Reset   string
}

// resolveTheme enables colours only when out is a TTY and NO_COLOR is
// unset, so piped and scripted runs stay plain.
func resolveTheme(out io.Writer) colorTheme {
	theme := colorTheme{}
	file, ok := out.(*os.File)
	if !ok {
		return theme
	}
	if os.Getenv("NO_COLOR") != "" {
		return theme
	}
	info, err := file.Stat()
	if err != nil {
		return theme
	}
	if (info.Mode() & os.ModeCharDevice) == 0 {
		return theme
	}

	theme.Enabled = true
	theme.Accent = "\033[38;5;39m"
	theme.Prompt = "\033[38;5;214m"
	theme.Success = "\033[38;5;70m"
	theme.Reset = "\033[0m"
	return theme
}

// Run walks the operator through source file, output naming, plot
// selection, date range, storage engine and output directory, then
// shows a numbered review where single answers can be edited before the
// configuration is returned.
func Run(ctx context.Context, in io.Reader, out io.Writer, defaults Defaults) (Result, error) {
	theme := resolveTheme(out)
	reader := bufio.NewReader(in)

	fmt.Fprintf(out, "\n%s🗺  Interactive setup%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled())
	fmt.Fprintf(out, "%sEnter keeps the defaults. You can edit individual answers in the review.%s\n\n", theme.AccentIfEnabled(), theme.ResetIfEnabled())

	answers := enrichDefaults(defaults)
outer:
	for {
		answers.KMLPath = promptKMLFile(ctx, reader, out, theme, answers.KMLPath)

		fmt.Fprintf(out, "%sPrefix:%s output files are named <prefix>_<timestamp>_<kind>. Unsafe characters are replaced.%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled(), theme.ResetIfEnabled())
		answers.Prefix = SanitizePrefix(promptWithDefault(ctx, reader, out, theme, "Output prefix", defaultOr(answers.Prefix, DefaultPrefix)))

		kinds := promptPlotKinds(ctx, reader, out, theme, answers.Plots)
		answers.Plots = joinKinds(kinds)

		from, to := promptDateRange(ctx, reader, out, theme, &answers)

		options := availableDBTypes()
		fmt.Fprintf(out, "%sStorage:%s sqlite, genji and duckdb are single files; pgx is PostgreSQL.%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled(), theme.ResetIfEnabled())
		if duckDBBuilt {
			fmt.Fprintf(out, "%sDuckDB shows up because this binary was compiled with -tags duckdb.%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled())
		}
		answers.DBType = promptChoice(ctx, reader, out, theme, "Database engine", options, pickDefault(options, answers.DBType))

		dbPath, dbConn := promptDatabaseConfig(ctx, reader, out, theme, &answers)
		answers.DBPath = dbPath
		answers.DBConn = dbConn

		fmt.Fprintf(out, "%sOutput:%s maps, CSV exports and the analysis report land in this directory.%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled(), theme.ResetIfEnabled())
		answers.OutDir = promptWithDefault(ctx, reader, out, theme, "Output directory", defaultOr(answers.OutDir, "."))

		for {
			fmt.Fprintf(out, "\n%sReview:%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled())
			fmt.Fprintf(out, "  [1] KML:     %s\n", displayValue(answers.KMLPath))
			fmt.Fprintf(out, "  [2] Prefix:  %s\n", answers.Prefix)
			fmt.Fprintf(out, "  [3] Plots:   %s\n", displayValue(answers.Plots))
			fmt.Fprintf(out, "  [4] Range:   %s\n", formatRange(from, to))
			fmt.Fprintf(out, "  [5] DB:      %s\n", formatDBChoice(answers.DBType, answers.DBPath, answers.DBConn))
			fmt.Fprintf(out, "  [6] Output:  %s\n", displayValue(answers.OutDir))

			action := promptWithDefault(ctx, reader, out, theme, "Enter = run, number = change, restart = redo all, cancel = exit", "")
			action = strings.ToLower(strings.TrimSpace(action))

			if action == "" {
				break
			}
			if action == "restart" {
				fmt.Fprintf(out, "%sRestarting with your current choices as defaults.%s\n\n", theme.PromptIfEnabled(), theme.ResetIfEnabled())
				continue outer
			}
			if action == "cancel" {
				return Result{}, errors.New("setup cancelled by user")
			}

			switch action {
			case "1":
				answers.KMLPath = promptKMLFile(ctx, reader, out, theme, answers.KMLPath)
			case "2":
				answers.Prefix = SanitizePrefix(promptWithDefault(ctx, reader, out, theme, "Output prefix", defaultOr(answers.Prefix, DefaultPrefix)))
			case "3":
				kinds = promptPlotKinds(ctx, reader, out, theme, answers.Plots)
				answers.Plots = joinKinds(kinds)
			case "4":
				from, to = promptDateRange(ctx, reader, out, theme, &answers)
			case "5":
				options = availableDBTypes()
				answers.DBType = promptChoice(ctx, reader, out, theme, "Database engine", options, pickDefault(options, answers.DBType))
				answers.DBPath, answers.DBConn = promptDatabaseConfig(ctx, reader, out, theme, &answers)
			case "6":
				answers.OutDir = promptWithDefault(ctx, reader, out, theme, "Output directory", defaultOr(answers.OutDir, "."))
			}
		}

		fmt.Fprintf(out, "\n%s✔ Configuration complete%s\n", theme.SuccessIfEnabled(), theme.ResetIfEnabled())

		return Result{
			KMLPath: answers.KMLPath,
			Prefix:  answers.Prefix,
			Kinds:   kinds,
			From:    from,
			To:      to,
			DBType:  answers.DBType,
			DBPath:  answers.DBPath,
			DBConn:  answers.DBConn,
			OutDir:  answers.OutDir,
		}, nil
	}
}

// availableDBTypes lists engines compiled into the binary. DuckDB is
// opt-in via the duckdb build tag, so the wizard hides it when absent
// while keeping the order predictable.
func availableDBTypes() []string {
	types := []string{"sqlite", "genji", "pgx"}
	if duckDBBuilt {
		types = append([]string{"duckdb"}, types...)
	}
	return types
}

// enrichDefaults derives per-field defaults so restarts reuse the
// latest answers. A present PostgreSQL connection string is parsed back
// into the individual prompts.
func enrichDefaults(defaults Defaults) Defaults {
	if defaults.DBType != "pgx" || strings.TrimSpace(defaults.DBConn) == "" {
		return defaults
	}
	parsed, err := url.Parse(defaults.DBConn)
	if err != nil {
		return defaults
	}
	if defaults.PGHost == "" {
		defaults.PGHost = parsed.Hostname()
	}
	if defaults.PGPort == "" {
		defaults.PGPort = parsed.Port()
	}
	if parsed.User != nil {
		if defaults.PGUser == "" {
			defaults.PGUser = parsed.User.Username()
		}
		if defaults.PGPassword == "" {
			if pw, ok := parsed.User.Password(); ok {
				defaults.PGPassword = pw
			}
		}
	}
	if defaults.PGDatabase == "" {
		defaults.PGDatabase = strings.TrimPrefix(parsed.Path, "/")
	}
	return defaults
}

// pickDefault keeps the chosen default visible in the options list,
// falling back to the first entry when an old value no longer applies.
func pickDefault(options []string, def string) string {
	for _, opt := range options {
		if strings.EqualFold(opt, def) {
			return opt
		}
	}
	return options[0]
}

// ListKMLFiles returns the .kml files directly under dir, sorted
// case-insensitively so the picker order matches what a file browser
// shows.
func ListKMLFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".kml") {
			files = append(files, e.Name())
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(files[i]) < strings.ToLower(files[j])
	})
	return files
}

// promptKMLFile lets the operator pick from the exports found in the
// working directory or type a path. Missing files re-prompt; keeping
// the default unvalidated means a scripted run still terminates and the
// pipeline reports the missing file properly.
func promptKMLFile(ctx context.Context, reader *bufio.Reader, out io.Writer, theme colorTheme, current string) string {
	def := defaultOr(current, DefaultKMLFile)
	files := ListKMLFiles(".")

	if len(files) > 0 {
		fmt.Fprintf(out, "%sKML files found here:%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled())
		for i, f := range files {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, f)
		}
	}

	for {
		answer := promptWithDefault(ctx, reader, out, theme, "KML file (number or path)", def)
		if answer == def {
			return answer
		}
		if idx, err := strconv.Atoi(answer); err == nil && idx >= 1 && idx <= len(files) {
			return files[idx-1]
		}
		if !strings.EqualFold(filepath.Ext(answer), ".kml") {
			answer += ".kml"
		}
		if _, err := os.Stat(answer); err == nil {
			return answer
		}
		fmt.Fprintf(out, "%sFile %q not found. Enter a number from the list or an existing path.%s\n", theme.PromptIfEnabled(), answer, theme.ResetIfEnabled())
	}
}

// promptPlotKinds shows the numbered kind menu and accepts numbers,
// names or "all", comma-separated. Invalid selections re-prompt; the
// default is always parseable so the loop terminates on scripted input.
func promptPlotKinds(ctx context.Context, reader *bufio.Reader, out io.Writer, theme colorTheme, current string) []plotdata.Kind {
	def := defaultOr(current, string(plotdata.KindScatter))

	fmt.Fprintf(out, "%sPlot types (e.g. 1,2,5 or names or all):%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled())
	for i, k := range plotdata.All {
		fmt.Fprintf(out, "  [%d] %s\n", i+1, k)
	}

	for {
		answer := promptWithDefault(ctx, reader, out, theme, "Plot selection", def)
		kinds, err := ParsePlotSelection(answer)
		if err == nil {
			return kinds
		}
		fmt.Fprintf(out, "%s%v%s\n", theme.PromptIfEnabled(), err, theme.ResetIfEnabled())
	}
}

// ParsePlotSelection resolves a mixed selection of menu numbers and
// kind names into the kinds to render, keeping order and dropping
// repeats.
func ParsePlotSelection(s string) ([]plotdata.Kind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("no plot kinds given")
	}
	if strings.EqualFold(s, "all") {
		return plotdata.ParseKinds("all")
	}

	var out []plotdata.Kind
	seen := make(map[plotdata.Kind]bool)
	for _, part := range strings.Split(s, ",") {
		tok := strings.TrimSpace(part)
		if tok == "" {
			continue
		}
		var kind plotdata.Kind
		if n, err := strconv.Atoi(tok); err == nil {
			if n < 1 || n > len(plotdata.All) {
				return nil, fmt.Errorf("plot number %d is out of range 1..%d", n, len(plotdata.All))
			}
			kind = plotdata.All[n-1]
		} else {
			kinds, err := plotdata.ParseKinds(tok)
			if err != nil {
				return nil, err
			}
			kind = kinds[0]
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		out = append(out, kind)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no plot kinds given")
	}
	return out, nil
}

func joinKinds(kinds []plotdata.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}

// promptDateRange reads the optional calendar window. Each side accepts
// DD.MM.YYYY or blank; a start after the end restarts both prompts so
// the returned pair is always usable.
func promptDateRange(ctx context.Context, reader *bufio.Reader, out io.Writer, theme colorTheme, answers *Defaults) (*time.Time, *time.Time) {
	fmt.Fprintf(out, "%sDate range:%s filter records to whole days, both ends inclusive. Blank keeps everything.%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled(), theme.ResetIfEnabled())

	for {
		from := promptDay(ctx, reader, out, theme, "Start date (DD.MM.YYYY, blank to skip)", answers.FromText)
		to := promptDay(ctx, reader, out, theme, "End date (DD.MM.YYYY, blank to skip)", answers.ToText)

		if from != nil && to != nil && from.After(*to) {
			fmt.Fprintf(out, "%sStart date is after end date, try again.%s\n", theme.PromptIfEnabled(), theme.ResetIfEnabled())
			answers.FromText, answers.ToText = "", ""
			continue
		}

		answers.FromText = formatDay(from)
		answers.ToText = formatDay(to)
		return from, to
	}
}

// promptDay reads one optional calendar date, re-prompting on format
// errors. The empty default keeps the loop terminating on EOF.
func promptDay(ctx context.Context, reader *bufio.Reader, out io.Writer, theme colorTheme, label, def string) *time.Time {
	for {
		answer := promptWithDefault(ctx, reader, out, theme, label, def)
		if strings.TrimSpace(answer) == "" {
			return nil
		}
		day, err := locations.ParseDay(answer)
		if err == nil {
			return &day
		}
		if answer == def {
			// A broken default cannot be fixed by asking again.
			return nil
		}
		fmt.Fprintf(out, "%sInvalid date, expected DD.MM.YYYY.%s\n", theme.PromptIfEnabled(), theme.ResetIfEnabled())
	}
}

func formatDay(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(locations.DayFormat)
}

func formatRange(from, to *time.Time) string {
	switch {
	case from == nil && to == nil:
		return "(all records)"
	case from == nil:
		return "until " + formatDay(to)
	case to == nil:
		return "from " + formatDay(from)
	default:
		return formatDay(from) + " to " + formatDay(to)
	}
}

// promptDatabaseConfig prints hints for the selected engine and returns
// the matching path or connection string. PostgreSQL gets structured
// prompts assembled into a URI; file engines get a path with the stem
// defaulted per engine.
func promptDatabaseConfig(ctx context.Context, reader *bufio.Reader, out io.Writer, theme colorTheme, answers *Defaults) (string, string) {
	if answers.DBType == "pgx" {
		fmt.Fprintf(out, "%sPostgreSQL (pgx driver):%s defaults assume a local server with an empty password.%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled(), theme.ResetIfEnabled())
		host := promptWithDefault(ctx, reader, out, theme, "Host", defaultOr(answers.PGHost, "localhost"))
		port := promptWithDefault(ctx, reader, out, theme, "Port", defaultOr(answers.PGPort, "5432"))
		user := promptWithDefault(ctx, reader, out, theme, "User", defaultOr(answers.PGUser, "postgres"))
		password := promptWithDefault(ctx, reader, out, theme, "Password (leave empty for trust/local auth)", answers.PGPassword)
		dbname := promptWithDefault(ctx, reader, out, theme, "Database name", defaultOr(answers.PGDatabase, "ufedmapper"))
		answers.PGHost, answers.PGPort, answers.PGUser, answers.PGPassword, answers.PGDatabase = host, port, user, password, dbname
		return "", buildPostgresURI(host, port, user, password, dbname)
	}

	def := suggestFileDBPath(answers.DBType, answers.DBPath)
	fmt.Fprintf(out, "%sFile database:%s a bare name gets the engine extension appended.%s\n", theme.AccentIfEnabled(), theme.ResetIfEnabled(), theme.ResetIfEnabled())
	return promptWithDefault(ctx, reader, out, theme, "Database file path", def), ""
}

// buildPostgresURI assembles a connection string, omitting the colon
// when the password is empty.
func buildPostgresURI(host, port, user, password, dbname string) string {
	cred := user
	if password != "" {
		cred = fmt.Sprintf("%s:%s", user, password)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s", cred, host, port, dbname)
}

// suggestFileDBPath proposes a snapshot filename carrying the engine
// extension so side-by-side engines never clobber each other.
func suggestFileDBPath(dbType, existing string) string {
	if strings.TrimSpace(existing) != "" {
		return existing
	}
	ext := map[string]string{
		"sqlite": "sqlite",
		"genji":  "genji",
		"duckdb": "duckdb",
	}[dbType]
	if ext == "" {
		ext = "db"
	}
	return "ufedmapper." + ext
}

func formatDBChoice(dbType, dbPath, dbConn string) string {
	if dbType == "pgx" {
		return fmt.Sprintf("%s (%s)", dbType, displayValue(redactConn(dbConn)))
	}
	return fmt.Sprintf("%s (%s)", dbType, displayValue(dbPath))
}

// redactConn hides the password portion of a URI so review output can
// be pasted into tickets without leaking credentials.
func redactConn(conn string) string {
	parsed, err := url.Parse(conn)
	if err != nil || parsed.User == nil {
		return conn
	}
	if _, ok := parsed.User.Password(); !ok {
		return conn
	}
	parsed.User = url.UserPassword(parsed.User.Username(), "*****")
	return parsed.String()
}

// SanitizePrefix replaces characters that are awkward in filenames,
// keeping letters, digits, dot, dash, underscore and space. An empty
// result falls back to the stock prefix.
func SanitizePrefix(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_' || r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return DefaultPrefix
	}
	return out
}

// displayValue converts empty strings into a placeholder so the review
// stays readable when defaults are blank.
func displayValue(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(empty)"
	}
	return v
}

// defaultOr falls back when the candidate string is empty.
func defaultOr(candidate, fallback string) string {
	if strings.TrimSpace(candidate) != "" {
		return candidate
	}
	return fallback
}

// promptWithDefault renders a coloured prompt and waits for one line.
// The goroutine plus select in readLine lets callers cancel via context
// without extra locking; any read error falls back to the default.
func promptWithDefault(ctx context.Context, reader *bufio.Reader, out io.Writer, theme colorTheme, label, def string) string {
	fmt.Fprintf(out, "%s❯ %s%s [%s]: %s", theme.PromptIfEnabled(), label, theme.ResetIfEnabled(), def, theme.ResetIfEnabled())
	line, err := readLine(ctx, reader)
	if err != nil {
		return def
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return def
	}
	return trimmed
}

// promptChoice shows a list of options, highlights the default and
// falls back to it on anything unparseable.
func promptChoice(ctx context.Context, reader *bufio.Reader, out io.Writer, theme colorTheme, label string, options []string, def string) string {
	fmt.Fprintf(out, "%s❯ %s%s\n", theme.PromptIfEnabled(), label, theme.ResetIfEnabled())
	defaultIndex := 0
	for i, opt := range options {
		if strings.EqualFold(opt, def) {
			defaultIndex = i
			break
		}
	}
	for i, opt := range options {
		marker := " "
		if i == defaultIndex {
			marker = "*"
		}
		fmt.Fprintf(out, "  [%d] %s %s\n", i+1, marker, opt)
	}
	fmt.Fprintf(out, "%sSelect option [%d]: %s", theme.PromptIfEnabled(), defaultIndex+1, theme.ResetIfEnabled())
	line, err := readLine(ctx, reader)
	if err != nil {
		return options[defaultIndex]
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return options[defaultIndex]
	}
	idx, err := strconv.Atoi(trimmed)
	if err != nil || idx < 1 || idx > len(options) {
		return options[defaultIndex]
	}
	return options[idx-1]
}

// readLine reads from in on a goroutine so the select can react to
// context cancellation while the terminal blocks.
func readLine(ctx context.Context, reader *bufio.Reader) (string, error) {
	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		text, err := reader.ReadString('\n')
		if err != nil {
			errCh <- err
			return
		}
		lineCh <- text
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case line := <-lineCh:
		return line, nil
	}
}

// AccentIfEnabled wraps text in the accent colour when ANSI is
// available. Keeping the helpers on the theme struct avoids repeating
// conditionals at each print site.
func (c colorTheme) AccentIfEnabled() string {
	if c.Enabled {
		return c.Accent
	}
	return ""
}

// PromptIfEnabled mirrors AccentIfEnabled for prompt highlights.
func (c colorTheme) PromptIfEnabled() string {
	if c.Enabled {
		return c.Prompt
	}
	return ""
}

// SuccessIfEnabled highlights confirmations without forcing colour-only
// output.
func (c colorTheme) SuccessIfEnabled() string {
	if c.Enabled {
		return c.Success
	}
	return ""
}

// ResetIfEnabled returns the reset sequence only when colours were used.
func (c colorTheme) ResetIfEnabled() string {
	if c.Enabled {
		return c.Reset
	}
	return ""
}
