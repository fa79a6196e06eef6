// Package barcode decodes machine readable symbols printed on invoices
// (claim numbers, NDC package codes, provider QR payloads) so their payloads
// can join the OCR token stream.
//
// The default build has no decoder linked. Enable the gozxing-backed decoder
// with the build tag `barcode_gozxing`:
//
//	go build -tags=barcode_gozxing ./...
package barcode
