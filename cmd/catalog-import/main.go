// Catalog import tool for loading violation rules into sanctiond.
//
// Usage:
//
//	go run ./cmd/catalog-import -csv rules.csv -url http://localhost:8080
//
// The CSV header names the columns; order does not matter:
//
//	code,name,category,legal_reference,base_fine,min_fine,max_fine,can_trigger_suspension,structure_types,applicability
//
// Fines are in euros with up to two decimals. structure_types is a
// "|"-separated list. Every row is sent to POST /rules; failed rows are
// reported and do not stop the import.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/sanctiond/internal/api"
	"github.com/opensource-finance/sanctiond/internal/domain"
)

var requiredColumns = []string{"code", "name", "category", "base_fine", "min_fine", "max_fine"}

// Row is a parsed CSV line.
type Row struct {
	Line int
	Rule domain.ViolationRule
}

func main() {
	_ = godotenv.Load()

	csvPath := flag.String("csv", "", "Path to the rule catalog CSV")
	baseURL := flag.String("url", "http://localhost:8080", "sanctiond base URL")
	actorID := flag.String("actor", "catalog-import", "Actor id recorded for the import")
	secret := flag.String("secret", os.Getenv("SANCTIOND_JWT_SECRET"), "JWT secret; header actors are used when empty")
	dryRun := flag.Bool("dry-run", false, "Parse and validate the file without sending it")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: catalog-import -csv rules.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	rows, parseErrs := ParseCatalog(f)
	for _, err := range parseErrs {
		fmt.Printf("✗ %v\n", err)
	}
	fmt.Printf("Parsed %d rules (%d rejected)\n", len(rows), len(parseErrs))
	if *dryRun || len(rows) == 0 {
		exit(len(parseErrs))
	}

	actor := domain.Actor{ID: *actorID, Role: domain.RoleApprover}
	client := &Client{BaseURL: strings.TrimRight(*baseURL, "/"), HTTP: &http.Client{Timeout: 10 * time.Second}}
	if *secret != "" {
		token, err := api.NewActorToken(*secret, actor, time.Hour)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		client.Token = token
	} else {
		client.Actor = actor
	}

	failed := len(parseErrs)
	for _, row := range rows {
		if err := client.SaveRule(&row.Rule); err != nil {
			fmt.Printf("✗ line %d (%s): %v\n", row.Line, row.Rule.Code, err)
			failed++
			continue
		}
		fmt.Printf("✓ %s\n", row.Rule.Code)
	}

	fmt.Printf("\nImported %d of %d rules\n", len(rows)-(failed-len(parseErrs)), len(rows))
	exit(failed)
}

func exit(failed int) {
	if failed > 0 {
		os.Exit(2)
	}
	os.Exit(0)
}

// ParseCatalog reads rules from CSV. Rows that cannot be parsed are returned
// as errors; the remaining rows are still returned.
func ParseCatalog(r io.Reader) ([]Row, []error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read header: %w", err)}
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, []error{fmt.Errorf("missing column %q", name)}
		}
	}

	var (
		rows []Row
		errs []error
	)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}

		rule, err := parseRow(record, cols)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		rows = append(rows, Row{Line: line, Rule: rule})
	}
	return rows, errs
}

func parseRow(record []string, cols map[string]int) (domain.ViolationRule, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	rule := domain.ViolationRule{
		Code:           get("code"),
		Name:           get("name"),
		Category:       domain.Category(strings.ToLower(get("category"))),
		LegalReference: get("legal_reference"),
		Applicability:  get("applicability"),
		Enabled:        true,
	}

	var err error
	if rule.BaseFine, err = ParseEuros(get("base_fine")); err != nil {
		return rule, fmt.Errorf("base_fine: %w", err)
	}
	if rule.MinFine, err = ParseEuros(get("min_fine")); err != nil {
		return rule, fmt.Errorf("min_fine: %w", err)
	}
	if rule.MaxFine, err = ParseEuros(get("max_fine")); err != nil {
		return rule, fmt.Errorf("max_fine: %w", err)
	}
	if raw := get("can_trigger_suspension"); raw != "" {
		if rule.CanTriggerSuspension, err = strconv.ParseBool(raw); err != nil {
			return rule, fmt.Errorf("can_trigger_suspension: %w", err)
		}
	}
	if raw := get("structure_types"); raw != "" {
		for _, t := range strings.Split(raw, "|") {
			if t = strings.TrimSpace(t); t != "" {
				rule.StructureTypes = append(rule.StructureTypes, t)
			}
		}
	}

	return rule, rule.Validate()
}

// ParseEuros converts a decimal euro amount such as "1500" or "1500.5" to cents.
func ParseEuros(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("amount is required")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", s)
	}
	euros, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || euros < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents := int64(0)
	if frac != "" {
		frac += strings.Repeat("0", 2-len(frac))
		if cents, err = strconv.ParseInt(frac, 10, 64); err != nil || cents < 0 {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}
	return euros*100 + cents, nil
}

// Client posts rules to a sanctiond instance.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// Token is sent as a bearer token; otherwise Actor is sent in headers.
	Token string
	Actor domain.Actor
}

// SaveRule upserts rule and returns the server's error message on failure.
func (c *Client) SaveRule(rule *domain.ViolationRule) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/rules", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else {
		req.Header.Set(api.ActorIDHeader, c.Actor.ID)
		req.Header.Set(api.ActorRoleHeader, string(c.Actor.Role))
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}
