package support

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"slices"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/ocr"
	"github.com/MeKo-Tech/medinvoice/internal/testutil"
)

// RegisterPipelineSteps registers the document and pipeline steps.
func (tc *TestContext) RegisterPipelineSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a clean pharmacy invoice$`, tc.aCleanPharmacyInvoice)
	sc.Step(`^the invoice total is changed to "([^"]*)"$`, tc.theInvoiceTotalIsChangedTo)
	sc.Step(`^a blank page$`, tc.aBlankPage)
	sc.Step(`^undecodable bytes$`, tc.undecodableBytes)
	sc.Step(`^the OCR backend is (available|unavailable)$`, tc.theOCRBackendIs)

	sc.Step(`^the document is processed$`, func() error { return tc.processTimes(1) })
	sc.Step(`^the document is processed twice$`, func() error { return tc.processTimes(2) })

	sc.Step(`^the status is "([^"]*)"$`, tc.theStatusIs)
	sc.Step(`^the verdict is "([^"]*)"$`, tc.theVerdictIs)
	sc.Step(`^the category is "([^"]*)"$`, tc.theCategoryIs)
	sc.Step(`^the reasons include "([^"]*)"$`, tc.theReasonsInclude)
	sc.Step(`^the total field is "([^"]*)"$`, tc.theTotalFieldIs)
	sc.Step(`^the record has (\d+) line items$`, tc.theRecordHasLineItems)
	sc.Step(`^the line items add up to the stated total$`, tc.theLineItemsAddUp)
	sc.Step(`^the status history is monotonic$`, tc.theStatusHistoryIsMonotonic)
	sc.Step(`^no failure is reported$`, tc.noFailureIsReported)
	sc.Step(`^the failure kind is "([^"]*)" at stage "([^"]*)"$`, tc.theFailureKindIsAtStage)
	sc.Step(`^the OCR backend was called (\d+) times$`, tc.theOCRBackendWasCalled)
	sc.Step(`^both outputs are byte-identical$`, tc.bothOutputsAreByteIdentical)
}

var statusOrder = []model.Status{
	model.StatusReceived,
	model.StatusPreprocessing,
	model.StatusOCR,
	model.StatusExtracting,
	model.StatusValidating,
	model.StatusComplete,
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (tc *TestContext) useInvoice(inv testutil.Invoice) error {
	data, err := encodePNG(inv.Render())
	if err != nil {
		return err
	}
	tc.Invoice = inv
	tc.Input = data
	tc.Name = "invoice.png"
	return nil
}

func (tc *TestContext) aCleanPharmacyInvoice() error {
	return tc.useInvoice(testutil.CleanInvoice())
}

func (tc *TestContext) theInvoiceTotalIsChangedTo(total string) error {
	return tc.useInvoice(tc.Invoice.WithTotal(total))
}

func (tc *TestContext) aBlankPage() error {
	data, err := encodePNG(testutil.BlankPage(testutil.PageWidth, testutil.PageHeight))
	if err != nil {
		return err
	}
	tc.Invoice = testutil.CleanInvoice()
	tc.Input = data
	tc.Name = "blank.png"
	return nil
}

func (tc *TestContext) undecodableBytes() error {
	tc.Input = []byte("this is not an image")
	tc.Name = "broken.png"
	return nil
}

func (tc *TestContext) theOCRBackendIs(state string) error {
	if state == "unavailable" {
		tc.Engine = &ocr.UnavailableEngine{}
		return nil
	}
	inv := tc.Invoice
	if len(inv.Items) == 0 {
		inv = testutil.CleanInvoice()
	}
	tc.Engine = ocr.NewStaticEngine(map[int][]model.Token{0: inv.Tokens()})
	return nil
}

func (tc *TestContext) processTimes(n int) error {
	if tc.Input == nil {
		return fmt.Errorf("no input document")
	}
	if err := tc.ensurePipeline(); err != nil {
		return err
	}
	for range n {
		tc.Doc = model.NewDocument(tc.Name, tc.Input, nil)
		tc.Results = append(tc.Results, tc.Pipeline.Process(context.Background(), tc.Doc))
	}
	return nil
}

func (tc *TestContext) record() (*model.InvoiceRecord, error) {
	res, err := tc.LastResult()
	if err != nil {
		return nil, err
	}
	if res.Record == nil {
		return nil, fmt.Errorf("no record; failure: %v", res.Err())
	}
	return res.Record, nil
}

func (tc *TestContext) theStatusIs(status string) error {
	res, err := tc.LastResult()
	if err != nil {
		return err
	}
	if string(res.Status) != status {
		return fmt.Errorf("expected status %q, got %q (%v)", status, res.Status, res.Err())
	}
	return nil
}

func (tc *TestContext) theVerdictIs(verdict string) error {
	rec, err := tc.record()
	if err != nil {
		return err
	}
	if string(rec.Verdict) != verdict {
		return fmt.Errorf("expected verdict %q, got %q (reasons %v)", verdict, rec.Verdict, rec.Reasons)
	}
	return nil
}

func (tc *TestContext) theCategoryIs(category string) error {
	rec, err := tc.record()
	if err != nil {
		return err
	}
	if rec.Category != category {
		return fmt.Errorf("expected category %q, got %q", category, rec.Category)
	}
	return nil
}

func (tc *TestContext) theReasonsInclude(reason string) error {
	rec, err := tc.record()
	if err != nil {
		return err
	}
	if !rec.HasReason(reason) {
		return fmt.Errorf("reason %q not in %v", reason, rec.Reasons)
	}
	return nil
}

func (tc *TestContext) theTotalFieldIs(validation string) error {
	rec, err := tc.record()
	if err != nil {
		return err
	}
	for _, f := range rec.Fields {
		if f.Kind == model.FieldAmount && f.Role == model.RoleTotal {
			if string(f.Validation) != validation {
				return fmt.Errorf("expected total %q, got %q", validation, f.Validation)
			}
			return nil
		}
	}
	return fmt.Errorf("no total field extracted")
}

func (tc *TestContext) theRecordHasLineItems(n int) error {
	rec, err := tc.record()
	if err != nil {
		return err
	}
	if len(rec.LineItems) != n {
		return fmt.Errorf("expected %d line items, got %d", n, len(rec.LineItems))
	}
	return nil
}

func (tc *TestContext) theLineItemsAddUp() error {
	rec, err := tc.record()
	if err != nil {
		return err
	}
	if rec.StatedTotal == nil {
		return fmt.Errorf("no stated total")
	}
	sum := decimal.Zero
	for _, li := range rec.LineItems {
		sum = sum.Add(li.Amount)
	}
	if !sum.Equal(*rec.StatedTotal) {
		return fmt.Errorf("items sum to %s, stated total is %s", sum, rec.StatedTotal)
	}
	return nil
}

func (tc *TestContext) theStatusHistoryIsMonotonic() error {
	res, err := tc.LastResult()
	if err != nil {
		return err
	}
	last := -1
	for i, s := range res.History {
		r := slices.Index(statusOrder, s)
		if s == model.StatusFailed {
			r = len(statusOrder) - 1
		}
		if r < 0 || r < last {
			return fmt.Errorf("history %v moves backwards at %d", res.History, i)
		}
		last = r
	}
	return nil
}

func (tc *TestContext) noFailureIsReported() error {
	res, err := tc.LastResult()
	if err != nil {
		return err
	}
	if res.Failure != nil {
		return fmt.Errorf("unexpected failure: %v", res.Err())
	}
	return nil
}

func (tc *TestContext) theFailureKindIsAtStage(kind, stage string) error {
	res, err := tc.LastResult()
	if err != nil {
		return err
	}
	if res.Failure == nil {
		return fmt.Errorf("expected a failure, got status %q", res.Status)
	}
	if string(res.Failure.Kind) != kind || string(res.Failure.Stage) != stage {
		return fmt.Errorf("expected %s at %s, got %s at %s", kind, stage, res.Failure.Kind, res.Failure.Stage)
	}
	return nil
}

func (tc *TestContext) theOCRBackendWasCalled(n int) error {
	u, ok := tc.Engine.(*ocr.UnavailableEngine)
	if !ok {
		return fmt.Errorf("call counting needs the unavailable backend")
	}
	if got := u.Calls(); got != int64(n) {
		return fmt.Errorf("expected %d calls, got %d", n, got)
	}
	return nil
}

func (tc *TestContext) bothOutputsAreByteIdentical() error {
	if len(tc.Results) < 2 {
		return fmt.Errorf("need two results, have %d", len(tc.Results))
	}
	a, err := tc.Results[len(tc.Results)-2].Marshal()
	if err != nil {
		return err
	}
	b, err := tc.Results[len(tc.Results)-1].Marshal()
	if err != nil {
		return err
	}
	if !bytes.Equal(a, b) {
		return fmt.Errorf("outputs differ:\n%s\n%s", a, b)
	}
	return nil
}
