// Package ingestion loads schedule-of-rates reference prices from XLSX,
// CSV or JSON files, local or on S3, and imports them into a price store.
package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	"roadsafety-cost/pkg/units"
)

// Format is a supported reference file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(location string) (Format, error) {
	switch strings.ToLower(path.Ext(location)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported reference file %q: expected .xlsx, .csv or .json", location)
}

// ObjectGetter is the subset of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Source labels records whose row carries no source column.
	Source string
	// Region is used when an S3 client has to be created.
	Region string
	// S3 overrides the client built from the default AWS config.
	S3     ObjectGetter
	Logger *slog.Logger
	Now    func() time.Time
}

// Loader reads reference price files.
type Loader struct {
	opts LoaderOptions
}

// LoadResult is the outcome of reading one file.
type LoadResult struct {
	Location string
	Records  []api.PriceRecord
	// Skipped counts rows that could not become a valid record.
	Skipped int
}

// NewLoader creates a loader.
func NewLoader(opts LoaderOptions) *Loader {
	if opts.Source == "" {
		opts.Source = "reference"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loader{opts: opts}
}

// Load reads location, a local path or an s3://bucket/key URI.
func (l *Loader) Load(ctx context.Context, location string) (*LoadResult, error) {
	format, err := DetectFormat(location)
	if err != nil {
		return nil, err
	}
	data, err := l.read(ctx, location)
	if err != nil {
		return nil, err
	}
	res, err := l.Parse(format, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", location, err)
	}
	res.Location = location
	l.opts.Logger.Info("reference prices loaded",
		"location", location, "records", len(res.Records), "skipped", res.Skipped)
	return res, nil
}

// Parse decodes r in the given format.
func (l *Loader) Parse(format Format, r io.Reader) (*LoadResult, error) {
	switch format {
	case FormatXLSX:
		return l.parseXLSX(r)
	case FormatCSV:
		return l.parseCSV(r)
	case FormatJSON:
		return l.parseJSON(r)
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

func (l *Loader) read(ctx context.Context, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "s3://") {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("failed to read reference file: %w", err)
		}
		return data, nil
	}

	bucket, key, err := ParseS3URI(location)
	if err != nil {
		return nil, err
	}
	client := l.opts.S3
	if client == nil {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(l.opts.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg)
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri %q needs both bucket and key", uri)
	}
	return bucket, key, nil
}

// =============================================================================
// TABULAR FORMATS
// =============================================================================

type column int

const (
	colName column = iota
	colCode
	colUnit
	colPrice
	colSource
	colSpec
	colURL
	colKeywords
	colConfidence
	colOfficial
	numColumns
)

// headers maps lower-cased header cells to columns.
var headers = map[string]column{
	"item_name": colName, "item name": colName, "item": colName, "name": colName,
	"description": colName, "description of item": colName,
	"item_code": colCode, "item code": colCode, "code": colCode, "sor code": colCode, "item no": colCode,
	"unit": colUnit, "uom": colUnit,
	"unit_price": colPrice, "unit price": colPrice, "rate": colPrice, "price": colPrice, "rate (inr)": colPrice,
	"source": colSource, "specification": colSpec, "spec": colSpec,
	"reference_url": colURL, "url": colURL,
	"keywords": colKeywords, "confidence": colConfidence, "official": colOfficial,
}

func (l *Loader) parseXLSX(r io.Reader) (*LoadResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	res := &LoadResult{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if len(rows) < 2 {
			continue
		}
		l.rows(rows, res)
	}
	return res, nil
}

func (l *Loader) parseCSV(r io.Reader) (*LoadResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	res := &LoadResult{}
	if len(rows) > 1 {
		l.rows(rows, res)
	}
	return res, nil
}

// rows converts a header row plus data rows. A sheet without name, unit
// and price headers is skipped whole.
func (l *Loader) rows(rows [][]string, res *LoadResult) {
	index := make([]int, numColumns)
	for i := range index {
		index[i] = -1
	}
	for i, h := range rows[0] {
		if c, ok := headers[strings.ToLower(strings.TrimSpace(h))]; ok && index[c] < 0 {
			index[c] = i
		}
	}
	if index[colName] < 0 || index[colUnit] < 0 || index[colPrice] < 0 {
		l.opts.Logger.Warn("reference sheet lacks name, unit or price column", "header", rows[0])
		return
	}

	cell := func(row []string, c column) string {
		i := index[c]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for _, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}
		price, ok := parsePrice(cell(row, colPrice))
		if !ok {
			res.Skipped++
			continue
		}
		rec := api.PriceRecord{
			ItemName:      cell(row, colName),
			ItemCode:      cell(row, colCode),
			Keywords:      splitKeywords(cell(row, colKeywords)),
			Unit:          units.Normalize(cell(row, colUnit)),
			UnitPrice:     price,
			Source:        cell(row, colSource),
			Specification: cell(row, colSpec),
			ReferenceURL:  cell(row, colURL),
			Confidence:    confidence.Level(strings.ToLower(cell(row, colConfidence))),
			Official:      parseOfficial(cell(row, colOfficial)),
		}
		l.keep(rec, res)
	}
}

// =============================================================================
// JSON
// =============================================================================

// jsonRecord accepts official as absent, which means true.
type jsonRecord struct {
	api.PriceRecord
	Official *bool `json:"official"`
}

func (l *Loader) parseJSON(r io.Reader) (*LoadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var recs []jsonRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		var wrapped struct {
			Prices []jsonRecord `json:"prices"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, err
		}
		recs = wrapped.Prices
	}

	res := &LoadResult{}
	for _, jr := range recs {
		rec := jr.PriceRecord
		rec.Unit = units.Normalize(string(rec.Unit))
		rec.Official = jr.Official == nil || *jr.Official
		l.keep(rec, res)
	}
	return res, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// keep fills defaults and appends rec if it is valid.
func (l *Loader) keep(rec api.PriceRecord, res *LoadResult) {
	if rec.Source == "" {
		rec.Source = l.opts.Source
	}
	switch rec.Confidence {
	case confidence.LevelHigh, confidence.LevelMedium, confidence.LevelLow, confidence.LevelVeryLow:
	default:
		rec.Confidence = confidence.LevelMedium
		if rec.Official {
			rec.Confidence = confidence.LevelHigh
		}
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = l.opts.Now()
	}
	if err := rec.Validate(); err != nil {
		l.opts.Logger.Debug("reference row skipped", "error", err)
		res.Skipped++
		return
	}
	res.Records = append(res.Records, rec)
}

var priceNumber = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// parsePrice reads "1,850.00", "Rs. 185" or "185/-" as a positive amount.
func parsePrice(s string) (decimal.Decimal, bool) {
	m := priceNumber.FindString(s)
	if m == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

// parseOfficial treats blank as official: schedules of rates are.
func parseOfficial(s string) bool {
	if s == "" {
		return true
	}
	switch strings.ToLower(s) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	b, err := strconv.ParseBool(s)
	return err != nil || b
}

func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, k := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, strings.ToLower(k))
		}
	}
	return out
}

func isEmptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ErrNoRecords is returned by an import of an empty file.
var ErrNoRecords = errors.New("no valid price records")
