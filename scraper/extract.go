package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/site"
)

const checkedPollInterval = 100 * time.Millisecond

// Extractor turns one product page into one record per variant.
type Extractor struct {
	profile *site.Profile
	cfg     *config.Config
	metrics *Metrics
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
}

// NewExtractor builds an extractor for profile.
func NewExtractor(cfg *config.Config, profile *site.Profile, metrics *Metrics) *Extractor {
	return &Extractor{
		profile: profile,
		cfg:     cfg,
		metrics: metrics,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Extract loads productURL into page and reads every variant. Only a failed
// navigation is an error; missing fields and failed variant selections still
// produce rows.
func (e *Extractor) Extract(ctx context.Context, page Page, productURL string) ([]*models.ProductRecord, error) {
	if err := page.Navigate(ctx, productURL); err != nil {
		return nil, err
	}
	doc, err := e.ready(ctx, page)
	if err != nil {
		return nil, err
	}
	base := e.profile.Fields(doc, page.URL())
	names := parser.NewNameCounter()

	switch e.profile.Variants {
	case site.URLVariants:
		return e.urlVariants(ctx, page, productURL, doc, base, names)
	default:
		return e.radioVariants(ctx, page, productURL, base, names)
	}
}

// ready waits for the product marker and snapshots the page. A wait timeout
// is logged and extraction continues with whatever rendered.
func (e *Extractor) ready(ctx context.Context, page Page) (*goquery.Document, error) {
	if e.profile.ReadySelector != "" {
		if err := page.WaitVisible(ctx, e.profile.ReadySelector, e.cfg.WaitTimeout); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, ErrWaitTimeout) {
				return nil, err
			}
			slog.Warn("product marker not visible, extracting anyway",
				slog.String("url", page.URL()),
				slog.String("selector", e.profile.ReadySelector),
			)
		}
	}
	return page.Snapshot(ctx)
}

func (e *Extractor) radioVariants(ctx context.Context, page Page, productURL string, base site.Fields, names *parser.NameCounter) ([]*models.ProductRecord, error) {
	count, err := page.Count(ctx, e.profile.RadioSelector)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []*models.ProductRecord{e.record(names, productURL, base, site.VariantFields{
			Price:    base.Price,
			NetPrice: base.NetPrice,
		})}, nil
	}

	records := make([]*models.ProductRecord, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := e.selectVariant(ctx, page, i); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.metrics.IncVariantFailure()
			e.metrics.IncError(ErrorTypeLabel(err))
			slog.Error("variant selection failed, writing placeholder row",
				slog.String("url", productURL),
				slog.Int("variant", i),
				slog.Any("error", err),
			)
			label := ""
			if doc, serr := page.Snapshot(ctx); serr == nil {
				if v, verr := e.profile.VariantFields(doc, i); verr == nil {
					label = v.Label
				}
			}
			records = append(records, e.placeholder(names, productURL, base, label))
			continue
		}

		doc, err := page.Snapshot(ctx)
		if err != nil {
			records = append(records, e.placeholder(names, productURL, base, ""))
			continue
		}
		current := mergeFields(base, e.profile.Fields(doc, page.URL()))
		v, err := e.profile.VariantFields(doc, i)
		if err != nil {
			slog.Warn("variant fields unreadable", slog.String("url", productURL), slog.Int("variant", i), slog.Any("error", err))
		}
		records = append(records, e.record(names, productURL, current, v))
	}
	return records, nil
}

// selectVariant clicks the label of radio i until the input reports checked.
// Each attempt re-queries the option list since the DOM may have been replaced.
func (e *Extractor) selectVariant(ctx context.Context, page Page, index int) error {
	attempts := e.cfg.VariantRetries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = e.trySelect(ctx, page, index)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Debug("variant selection attempt failed",
			slog.Int("variant", index),
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr),
		)
		if attempt < attempts {
			if err := e.sleep(ctx, time.Duration(attempt)*checkedPollInterval); err != nil {
				return err
			}
		}
	}
	return &VariantSelectionError{Index: index, Attempts: attempts, Err: lastErr}
}

func (e *Extractor) trySelect(ctx context.Context, page Page, index int) error {
	count, err := page.Count(ctx, e.profile.RadioSelector)
	if err != nil {
		return err
	}
	if index >= count {
		return fmt.Errorf("option %d gone, %d options on page", index, count)
	}
	if checked, err := page.IsChecked(ctx, e.profile.RadioSelector, index); err == nil && checked {
		return nil
	}

	id, ok, err := page.Attr(ctx, e.profile.RadioSelector, index, "id")
	if err != nil {
		return err
	}
	if !ok || id == "" {
		return fmt.Errorf("option %d has no id", index)
	}
	if err := page.Click(ctx, fmt.Sprintf(`label[for=%q]`, id)); err != nil {
		return fmt.Errorf("click option %d: %w", index, err)
	}
	return e.waitChecked(ctx, page, index)
}

func (e *Extractor) waitChecked(ctx context.Context, page Page, index int) error {
	deadline := e.now().Add(e.cfg.WaitTimeout)
	for {
		checked, err := page.IsChecked(ctx, e.profile.RadioSelector, index)
		if err == nil && checked {
			if e.profile.ReadySelector != "" {
				if werr := page.WaitVisible(ctx, e.profile.ReadySelector, e.cfg.WaitTimeout); werr != nil && !errors.Is(werr, ErrWaitTimeout) {
					return werr
				}
			}
			return nil
		}
		if !e.now().Before(deadline) {
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: option %d not checked", ErrWaitTimeout, index)
		}
		if serr := e.sleep(ctx, checkedPollInterval); serr != nil {
			return serr
		}
	}
}

// urlVariants visits ?number=<id><suffix> for each configured variant.
func (e *Extractor) urlVariants(ctx context.Context, page Page, productURL string, doc *goquery.Document, base site.Fields, names *parser.NameCounter) ([]*models.ProductRecord, error) {
	id := e.profile.ProductID(doc, page.URL())
	if id == "" {
		slog.Warn("product id not found, writing base record only", slog.String("url", productURL))
		return []*models.ProductRecord{e.record(names, productURL, base, site.VariantFields{Price: base.Price, NetPrice: base.NetPrice})}, nil
	}

	records := make([]*models.ProductRecord, 0, len(e.profile.URLVariants))
	for _, variant := range e.profile.URLVariants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		variantURL, err := parser.WithQuery(productURL, "number", id+variant.Suffix)
		if err != nil {
			records = append(records, e.placeholder(names, productURL, base, variant.Label))
			continue
		}
		if err := page.Navigate(ctx, variantURL); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.metrics.IncVariantFailure()
			slog.Error("variant page failed, writing placeholder row",
				slog.String("url", variantURL),
				slog.String("variant", variant.Label),
				slog.Any("error", err),
			)
			records = append(records, e.placeholder(names, variantURL, base, variant.Label))
			continue
		}
		vdoc, err := e.ready(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			records = append(records, e.placeholder(names, variantURL, base, variant.Label))
			continue
		}
		fields := mergeFields(base, e.profile.Fields(vdoc, page.URL()))
		records = append(records, e.record(names, variantURL, fields, site.VariantFields{
			Label:    variant.Label,
			Price:    fields.Price,
			NetPrice: fields.NetPrice,
		}))
	}
	return records, nil
}

func (e *Extractor) record(names *parser.NameCounter, url string, f site.Fields, v site.VariantFields) *models.ProductRecord {
	baseName := parser.OrNA(f.Name)
	label := parser.NormalizeText(v.Label)
	stock := v.StockStatus
	if stock == "" {
		stock = f.StockStatus
	}
	return &models.ProductRecord{
		ProductName:              names.Name(baseName, label),
		BaseName:                 baseName,
		VariantLabel:             parser.OrNA(label),
		Price:                    parser.OrNA(v.Price),
		NetPrice:                 parser.OrNA(v.NetPrice),
		StockStatus:              parser.OrNA(stock),
		QuantityAvailable:        parser.OrNA(f.QuantityAvailable),
		DeliveryTime:             parser.OrNA(f.DeliveryTime),
		ProductNumber:            parser.OrNA(f.ProductNumber),
		Images:                   f.Images,
		DescriptionAndProperties: parser.OrNA(f.DescriptionAndProperties),
		CategoryPath:             parser.OrNA(f.CategoryPath),
		URL:                      url,
		ScrapedAt:                e.now(),
	}
}

// placeholder keeps the row for a variant that could not be read: base fields
// are real, the variant-dependent ones are N/A.
func (e *Extractor) placeholder(names *parser.NameCounter, url string, base site.Fields, label string) *models.ProductRecord {
	r := e.record(names, url, base, site.VariantFields{Label: label})
	r.Price = models.NotAvailable
	r.NetPrice = models.NotAvailable
	r.StockStatus = models.NotAvailable
	r.QuantityAvailable = models.NotAvailable
	r.DeliveryTime = models.NotAvailable
	return r
}

// mergeFields prefers values from the latest snapshot and falls back to base.
func mergeFields(base, latest site.Fields) site.Fields {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	out := site.Fields{
		Name:                     pick(latest.Name, base.Name),
		Price:                    pick(latest.Price, base.Price),
		NetPrice:                 pick(latest.NetPrice, base.NetPrice),
		StockStatus:              pick(latest.StockStatus, base.StockStatus),
		QuantityAvailable:        pick(latest.QuantityAvailable, base.QuantityAvailable),
		DeliveryTime:             pick(latest.DeliveryTime, base.DeliveryTime),
		ProductNumber:            pick(latest.ProductNumber, base.ProductNumber),
		Images:                   latest.Images,
		DescriptionAndProperties: pick(latest.DescriptionAndProperties, base.DescriptionAndProperties),
		CategoryPath:             pick(latest.CategoryPath, base.CategoryPath),
	}
	if len(out.Images) == 0 {
		out.Images = base.Images
	}
	return out
}
