package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/medinvoice/internal/server"
)

// RegisterAPISteps registers the HTTP server steps.
func (tc *TestContext) RegisterAPISteps(sc *godog.ScenarioContext) {
	sc.Step(`^the API server is running$`, tc.theAPIServerIsRunning)
	sc.Step(`^I upload the document$`, tc.iUploadTheDocument)
	sc.Step(`^I fetch the uploaded invoice$`, func() error { return tc.get("/v1/invoices/" + tc.UploadedID) })
	sc.Step(`^I fetch invoice "([^"]*)"$`, func(id string) error { return tc.get("/v1/invoices/" + url.PathEscape(id)) })
	sc.Step(`^I look up the uploaded content hash$`, func() error {
		return tc.get("/v1/invoices?hash=" + url.QueryEscape(tc.UploadedHash))
	})
	sc.Step(`^I list invoices$`, func() error { return tc.get("/v1/invoices") })

	sc.Step(`^the response status is (\d+)$`, tc.theResponseStatusIs)
	sc.Step(`^the response verdict is "([^"]*)"$`, tc.theResponseVerdictIs)
	sc.Step(`^the response failure kind is "([^"]*)"$`, tc.theResponseFailureKindIs)
	sc.Step(`^the response id is the uploaded id$`, tc.theResponseIDIsTheUploadedID)
	sc.Step(`^the list contains (\d+) invoices?$`, tc.theListContains)
}

func (tc *TestContext) theAPIServerIsRunning() error {
	if err := tc.ensurePipeline(); err != nil {
		return err
	}
	s, err := server.NewServer(server.Config{}, server.Deps{Pipeline: tc.Pipeline})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	tc.Server = s
	tc.HTTPServer = httptest.NewServer(s.Handler())
	return nil
}

func (tc *TestContext) iUploadTheDocument() error {
	if tc.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", tc.Name)
	if err != nil {
		return err
	}
	if _, err := part.Write(tc.Input); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(tc.HTTPServer.URL+"/v1/invoices", mw.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	if err := tc.readResponse(resp); err != nil {
		return err
	}

	var inv server.InvoiceResponse
	if err := json.Unmarshal(tc.LastBody, &inv); err == nil {
		tc.UploadedID = inv.ID
		tc.UploadedHash = inv.ContentHash
	}
	return nil
}

func (tc *TestContext) get(path string) error {
	if tc.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	resp, err := http.Get(tc.HTTPServer.URL + path)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	return tc.readResponse(resp)
}

func (tc *TestContext) readResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	tc.LastStatus = resp.StatusCode
	tc.LastBody = data
	return nil
}

func (tc *TestContext) invoiceResponse() (server.InvoiceResponse, error) {
	var inv server.InvoiceResponse
	if err := json.Unmarshal(tc.LastBody, &inv); err != nil {
		return inv, fmt.Errorf("response is not an invoice: %w\n%s", err, tc.LastBody)
	}
	return inv, nil
}

func (tc *TestContext) theResponseStatusIs(code int) error {
	if tc.LastStatus != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, tc.LastStatus, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theResponseVerdictIs(verdict string) error {
	inv, err := tc.invoiceResponse()
	if err != nil {
		return err
	}
	if inv.Record == nil {
		return fmt.Errorf("response carries no record: %s", tc.LastBody)
	}
	if string(inv.Record.Verdict) != verdict {
		return fmt.Errorf("expected verdict %q, got %q", verdict, inv.Record.Verdict)
	}
	return nil
}

func (tc *TestContext) theResponseFailureKindIs(kind string) error {
	inv, err := tc.invoiceResponse()
	if err != nil {
		return err
	}
	if inv.Failure == nil {
		return fmt.Errorf("response carries no failure: %s", tc.LastBody)
	}
	if string(inv.Failure.Kind) != kind {
		return fmt.Errorf("expected failure kind %q, got %q", kind, inv.Failure.Kind)
	}
	return nil
}

func (tc *TestContext) theResponseIDIsTheUploadedID() error {
	inv, err := tc.invoiceResponse()
	if err != nil {
		return err
	}
	if tc.UploadedID == "" || inv.ID != tc.UploadedID {
		return fmt.Errorf("expected id %q, got %q", tc.UploadedID, inv.ID)
	}
	return nil
}

func (tc *TestContext) theListContains(n int) error {
	var list server.ListResponse
	if err := json.Unmarshal(tc.LastBody, &list); err != nil {
		return fmt.Errorf("response is not a list: %w", err)
	}
	if list.Total != n || len(list.Items) != n {
		return fmt.Errorf("expected %d invoices, got %d (total %d)", n, len(list.Items), list.Total)
	}
	return nil
}
