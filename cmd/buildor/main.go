package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/splax/buildor/pkg/client"
	jwtpkg "github.com/splax/buildor/pkg/jwt"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ", ") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var buildVersion = "dev"

const requestTimeout = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "token":
		err = commandToken(args)
	case "project":
		err = commandProject(args)
	case "deploy":
		err = commandDeploy(args)
	case "version", "--version", "-v":
		fmt.Println(strings.TrimSpace(buildVersion))
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commandLogin stores the API address and an access token. The token is read
// from the terminal without echo when not passed as a flag.
func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL (default "+client.DefaultBaseURL+")")
	token := fs.String("token", "", "Access token (supply to avoid prompt)")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Access token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(raw))
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = strings.TrimSpace(*apiBase)
	}
	cfg.AccessToken = secret
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("configured %s\n", cfg.APIBaseURL)
	return nil
}

// commandToken mints a token signed with the server's JWT secret, for local setups.
func commandToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret (default $JWT_SECRET)")
	user := fs.String("user", "cli", "User id embedded in the token")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	save := fs.Bool("save", false, "Store the token in the CLI config")
	readOnly := fs.Bool("read-only", false, "Omit the deployments:write scope")
	fs.Parse(args)

	if strings.TrimSpace(*secret) == "" {
		return errors.New("--secret is required")
	}
	scopes := []string{jwtpkg.ScopeRead}
	if !*readOnly {
		scopes = append(scopes, jwtpkg.ScopeWrite)
	}
	token, err := jwtpkg.NewSigner(*secret).Issue(*user, *ttl, scopes...)
	if err != nil {
		return err
	}
	if !*save {
		fmt.Println(token)
		return nil
	}
	cfg, _ := loadConfig()
	cfg.AccessToken = token
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("token saved")
	return nil
}

func commandProject(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: buildor project [list|get|create]")
	}
	switch args[0] {
	case "list":
		return projectList(args[1:])
	case "get":
		return projectGet(args[1:])
	case "create":
		return projectCreate(args[1:])
	default:
		return fmt.Errorf("unknown project command: %s", args[0])
	}
}

func projectList(args []string) error {
	fs := flag.NewFlagSet("project list", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Maximum number of projects to display")
	fs.Parse(args)

	api, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	projects, err := api.ListProjects(ctx, *limit)
	if err != nil {
		return err
	}
	for _, p := range projects {
		fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Repository, optional(p.CurrentDeploymentID))
	}
	return nil
}

func projectGet(args []string) error {
	fs := flag.NewFlagSet("project get", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	fs.Parse(args)
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	api, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	p, err := api.GetProject(ctx, *projectID)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(p, "", "  ")
	fmt.Println(string(out))
	return nil
}

func projectCreate(args []string) error {
	fs := flag.NewFlagSet("project create", flag.ExitOnError)
	name := fs.String("name", "", "Project name")
	repo := fs.String("repo", "", "Repository URL")
	output := fs.String("output", "", "Build output folder (default dist)")
	var preBuild, build stringList
	fs.Var(&preBuild, "pre-build", "Pre-build command (repeatable)")
	fs.Var(&build, "build", "Build command (repeatable)")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	if strings.TrimSpace(*repo) == "" {
		return errors.New("--repo is required")
	}

	api, err := newClient()
	if err != nil {
		return err
	}
	req := client.CreateProjectRequest{Name: *name, Repository: *repo, OutputFolder: *output}
	if len(preBuild) > 0 || len(build) > 0 {
		req.Commands = &client.Commands{PreBuild: preBuild, Build: build}
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	project, err := api.CreateProject(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("project created: %s (%s)\n", project.ID, project.Name)
	return nil
}

func commandDeploy(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: buildor deploy [trigger|list|status]")
	}
	switch args[0] {
	case "trigger":
		return deployTrigger(args[1:])
	case "list":
		return deployList(args[1:])
	case "status":
		return deployStatus(args[1:])
	default:
		return fmt.Errorf("unknown deploy command: %s", args[0])
	}
}

func deployTrigger(args []string) error {
	fs := flag.NewFlagSet("deploy trigger", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	ref := fs.String("ref", "", "Source version (branch, tag or commit)")
	wait := fs.Bool("wait", false, "Wait until the deployment finishes")
	timeout := fs.Duration("timeout", 30*time.Minute, "Maximum time to wait")
	fs.Parse(args)

	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	api, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	receipt, err := api.TriggerDeployment(ctx, *projectID, *ref)
	cancel()
	if err != nil {
		return err
	}
	fmt.Printf("deployment triggered: %s job=%s status=%s\n", receipt.ID, receipt.BuildJobID, receipt.Status)
	if !*wait {
		return nil
	}
	return waitFor(api, receipt.ID, *timeout)
}

func deployList(args []string) error {
	fs := flag.NewFlagSet("deploy list", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	limit := fs.Int("limit", 5, "Maximum number of deployments")
	fs.Parse(args)

	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	api, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	deployments, err := api.ListDeployments(ctx, *projectID, *limit)
	if err != nil {
		return err
	}
	for _, dep := range deployments {
		fmt.Printf("%s\t%s\t%s\t%s\n", dep.ID, dep.Status, phaseOrDash(dep.Phase), dep.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func deployStatus(args []string) error {
	fs := flag.NewFlagSet("deploy status", flag.ExitOnError)
	deploymentID := fs.String("deployment", "", "Deployment identifier")
	wait := fs.Bool("wait", false, "Wait until the deployment finishes")
	timeout := fs.Duration("timeout", 30*time.Minute, "Maximum time to wait")
	fs.Parse(args)

	if strings.TrimSpace(*deploymentID) == "" {
		return errors.New("--deployment is required")
	}
	api, err := newClient()
	if err != nil {
		return err
	}
	if *wait {
		return waitFor(api, *deploymentID, *timeout)
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	dep, err := api.DeploymentStatus(ctx, *deploymentID)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\t%s", dep.ID, dep.Status, phaseOrDash(dep.Phase), dep.UpdatedAt.Format(time.RFC3339))
	if dep.BuildNumber > 0 {
		fmt.Printf("\t#%d", dep.BuildNumber)
	}
	if took := dep.Duration(); took > 0 {
		fmt.Printf("\t%s", took.Round(time.Second))
	}
	fmt.Println()
	return nil
}

// waitFor polls a deployment to completion. On a terminal the progress line is
// rewritten in place; otherwise every change is printed on its own line.
func waitFor(api *client.Client, deploymentID string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	final, err := api.WaitForDeployment(ctx, deploymentID, 2*time.Second, func(d client.Deployment) {
		line := fmt.Sprintf("%s %s", d.Status, phaseOrDash(d.Phase))
		if interactive {
			fmt.Printf("\r\033[K%s", line)
			return
		}
		fmt.Println(line)
	})
	if interactive {
		fmt.Print("\n")
	}
	if err != nil {
		return err
	}
	if final.Status != "Succeeded" {
		return fmt.Errorf("deployment %s finished with status %s", final.ID, final.Status)
	}
	fmt.Printf("deployment %s succeeded\n", final.ID)
	return nil
}

func newClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.APIBaseURL, client.WithToken(cfg.AccessToken))
}

func phaseOrDash(phase string) string {
	if phase == "" {
		return "-"
	}
	return phase
}

func optional(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	var cfg cliConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cfg, err
	}
	if env := strings.TrimSpace(os.Getenv("BUILDOR_API")); env != "" {
		cfg.APIBaseURL = env
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = client.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "buildor", "config.json"), nil
}

func printUsage() {
	fmt.Printf("buildor CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	buildor login [--api http://localhost:4000] [--token <jwt>]
	buildor token --secret <jwt-secret> [--user id] [--ttl 24h] [--save]
	buildor project list [--limit N]
	buildor project get --project <project-id>
	buildor project create --name <name> --repo <url> [--output dist] [--pre-build cmd]... [--build cmd]...
	buildor deploy trigger --project <project-id> [--ref main] [--wait]
	buildor deploy list --project <project-id> [--limit N]
	buildor deploy status --deployment <deployment-id> [--wait]
	buildor version
`)
}
