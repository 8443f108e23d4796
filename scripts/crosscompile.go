package main

// crosscompile.go builds UFEDMapper binaries for every platform the Go
// toolchain can target, stamping main.CompileVersion with a build
// number aligned to GitHub Actions run numbers. The duckdb tag plus
// CGO goes in only on targets where that driver can actually compile.

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

func main() {
	goModTidy := exec.Command("go", "mod", "tidy")
	if err := goModTidy.Run(); err != nil {
		fmt.Printf("go mod tidy - failed: %s\n", err)
	}

	goSourceFile, err := findMainGoFile()
	if err != nil {
		log.Fatalf("Error finding main Go file: %v", err)
	}

	baseName := filepath.Base(goSourceFile)
	executionFile := strings.TrimSuffix(baseName, filepath.Ext(baseName))

	gitVersion, err := getGitVersion()
	if err != nil {
		log.Fatalf("Error getting Git version: %v", err)
	}
	version := gitVersion
	fmt.Printf("Building version: %s\n", version)

	gitRootPath, err := getGitRootPath()
	if err != nil {
		log.Fatalf("Error getting Git root path: %v", err)
	}

	binariesPath := filepath.Join(gitRootPath, "binaries", version)
	err = os.MkdirAll(binariesPath, os.ModePerm)
	if err != nil {
		log.Fatalf("Error creating binaries directory: %v", err)
	}

	latestLink := filepath.Join(gitRootPath, "binaries", "latest")
	os.Remove(latestLink)
	err = os.Symlink(version, latestLink)
	if err != nil {
		log.Printf("Warning: Failed to create symlink 'latest': %v", err)
	}

	osList := []string{
		"android", "aix", "darwin", "dragonfly", "freebsd",
		"illumos", "ios", "js", "linux", "netbsd",
		"openbsd", "plan9", "solaris", "windows", "wasip1", "zos",
	}

	archList := []string{
		"amd64", "386", "arm", "arm64", "loong64", "mips64",
		"mips64le", "mips", "mipsle", "ppc64",
		"ppc64le", "riscv64", "s390x", "wasm",
	}

	for _, osName := range osList {
		for _, arch := range archList {
			targetOSName := osName
			execFileName := executionFile

			if osName == "windows" {
				execFileName += ".exe"
			} else if osName == "darwin" {
				targetOSName = "mac"
			}

			outputDir := filepath.Join(binariesPath, targetOSName, arch)
			err := os.MkdirAll(outputDir, os.ModePerm)
			if err != nil {
				log.Printf("Error creating output directory %s: %v", outputDir, err)
				continue
			}

			outputPath := filepath.Join(outputDir, execFileName)

			ldflags := fmt.Sprintf("-X 'main.CompileVersion=%s'", version)

			// Build with the DuckDB tag and CGO only where the driver compiles.
			duckdb := supportsDuckDB(osName, arch)
			buildArgs := []string{"build", "-ldflags", ldflags}
			if duckdb {
				buildArgs = append(buildArgs, "-tags", "duckdb")
			}
			buildArgs = append(buildArgs, "-o", outputPath, ".")
			buildCmd := exec.Command("go", buildArgs...)

			env := append(os.Environ(), "GOOS="+osName, "GOARCH="+arch)
			if duckdb {
				env = append(env, "CGO_ENABLED=1")
			} else {
				env = append(env, "CGO_ENABLED=0")
			}
			buildCmd.Env = env
			if err := buildCmd.Run(); err != nil {
				// Remove the directory if the build fails so the tree
				// only holds targets that actually exist.
				err = os.RemoveAll(outputDir)
				if err != nil {
					log.Printf("Error removing output directory %s: %v", outputDir, err)
				}
				continue
			} else {
				err = os.Chmod(outputPath, 0755)
				if err != nil {
					log.Printf("Error setting permissions on %s: %v", outputPath, err)
				}

				fmt.Printf("Successfully built %s for %s/%s\n", execFileName, osName, arch)
			}
		}
	}
}

// supportsDuckDB reports whether the OS/architecture pair can carry the
// embedded DuckDB engine. The driver's build constraint allows Linux on
// amd64 and arm64 only, so the matrix must not claim more.
func supportsDuckDB(osName, arch string) bool {
	return osName == "linux" && (arch == "amd64" || arch == "arm64")
}

// ----- Git helpers -----
func getGitRootPath() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// getGitVersion finds the build number, preferring the GitHub Actions
// run number so local builds share numbering with CI builds. Run number
// and dirty state are checked concurrently.
func getGitVersion() (string, error) {
	runChan := make(chan string)
	dirtyChan := make(chan bool)
	errChan := make(chan error, 2)

	go func() {
		if env := os.Getenv("GITHUB_RUN_NUMBER"); env != "" {
			runChan <- env
			return
		}
		n, err := fetchNextRunNumber()
		if err != nil {
			errChan <- err
			return
		}
		runChan <- n
	}()

	go func() {
		cmd := exec.Command("git", "status", "--porcelain")
		output, err := cmd.Output()
		if err != nil {
			errChan <- err
			return
		}
		dirtyChan <- len(strings.TrimSpace(string(output))) > 0
	}()

	var runNumber string
	dirty := false
	for i := 0; i < 2; i++ {
		select {
		case rn := <-runChan:
			runNumber = rn
		case d := <-dirtyChan:
			dirty = d
		case err := <-errChan:
			return "", err
		}
	}

	if runNumber == "" {
		cmd := exec.Command("git", "rev-list", "--count", "HEAD")
		output, err := cmd.Output()
		if err != nil {
			return "", err
		}
		runNumber = strings.TrimSpace(string(output))
	}

	if dirty {
		runNumber += "-dirty"
	}
	return runNumber, nil
}

// ----- File helpers -----
func findMainGoFile() (string, error) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		return "", err
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if strings.Contains(string(content), "package main") && strings.Contains(string(content), "func main()") {
			return file, nil
		}
	}
	return "", fmt.Errorf("No main Go file found in the current directory")
}

// ----- Version helpers -----
// fetchNextRunNumber retrieves the next GitHub Actions run number using the API.
func fetchNextRunNumber() (string, error) {
	cmd := exec.Command("git", "config", "--get", "remote.origin.url")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	owner, repo, err := parseGitHubRepo(strings.TrimSpace(string(output)))
	if err != nil {
		return "", err
	}

	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/actions/workflows/release.yml/runs?per_page=1", owner, repo)
	resp, err := http.Get(apiURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		WorkflowRuns []struct {
			RunNumber int `json:"run_number"`
		} `json:"workflow_runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.WorkflowRuns) == 0 {
		return "1", nil
	}
	return strconv.Itoa(result.WorkflowRuns[0].RunNumber + 1), nil
}

// parseGitHubRepo extracts owner and repository from the remote URL.
func parseGitHubRepo(remote string) (string, string, error) {
	if strings.HasPrefix(remote, "git@") {
		parts := strings.SplitN(remote, ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("invalid remote URL")
		}
		remote = parts[1]
	} else if strings.HasPrefix(remote, "https://") || strings.HasPrefix(remote, "http://") {
		u, err := url.Parse(remote)
		if err != nil {
			return "", "", err
		}
		remote = strings.TrimPrefix(u.Path, "/")
	}
	remote = strings.TrimSuffix(remote, ".git")
	parts := strings.Split(remote, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("unable to parse owner and repo")
	}
	return parts[0], parts[1], nil
}
