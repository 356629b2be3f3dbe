package extract

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/kalambet/fatrocu/internal/invoice"
)

// UBL reads UBL-TR e-invoice XML locally. Values carry no location since
// there is no rendered page to point at.
type UBL struct{}

type ublInvoice struct {
	ID              string        `xml:"ID"`
	IssueDate       string        `xml:"IssueDate"`
	InvoiceTypeCode string        `xml:"InvoiceTypeCode"`
	Supplier        ublParty      `xml:"AccountingSupplierParty>Party"`
	Customer        ublParty      `xml:"AccountingCustomerParty>Party"`
	Total           ublMonetary   `xml:"LegalMonetaryTotal"`
	TaxTotals       []ublTaxTotal `xml:"TaxTotal"`
}

type ublParty struct {
	IDs    []ublPartyID `xml:"PartyIdentification>ID"`
	Name   string       `xml:"PartyName>Name"`
	Person struct {
		FirstName  string `xml:"FirstName"`
		FamilyName string `xml:"FamilyName"`
	} `xml:"Person"`
}

type ublPartyID struct {
	Scheme string `xml:"schemeID,attr"`
	Value  string `xml:",chardata"`
}

type ublMonetary struct {
	LineExtension string `xml:"LineExtensionAmount"`
	Payable       string `xml:"PayableAmount"`
}

type ublTaxTotal struct {
	TaxAmount string           `xml:"TaxAmount"`
	Subtotals []ublTaxSubtotal `xml:"TaxSubtotal"`
}

type ublTaxSubtotal struct {
	Taxable         string `xml:"TaxableAmount"`
	Amount          string `xml:"TaxAmount"`
	Percent         string `xml:"Percent"`
	CategoryPercent string `xml:"TaxCategory>Percent"`
}

func (p ublParty) taxID() string {
	for _, scheme := range []string{"VKN", "TCKN"} {
		for _, id := range p.IDs {
			if strings.EqualFold(id.Scheme, scheme) {
				return strings.TrimSpace(id.Value)
			}
		}
	}
	return ""
}

func (p ublParty) name() string {
	if n := strings.TrimSpace(p.Name); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(p.Person.FirstName) + " " + strings.TrimSpace(p.Person.FamilyName))
}

// Extract parses req.Data as a UBL invoice and maps it onto the e-Arşiv
// field keys. Keys that req.Config does not declare are dropped.
func (UBL) Extract(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	inv, err := parseUBL(req.Data)
	if err != nil {
		return Result{}, extractionErr(err, "XML file is malformed: %v", err)
	}
	if strings.TrimSpace(inv.ID) == "" || strings.TrimSpace(inv.IssueDate) == "" || strings.TrimSpace(inv.Total.Payable) == "" {
		return Result{}, &ExtractionError{Message: "XML file does not contain the invoice number, date and payable total"}
	}

	fields := invoice.Fields{
		"faturaNumarasi": {Value: strings.TrimSpace(inv.ID)},
		"faturaTarihi":   {Value: ublDate(inv.IssueDate)},
		"faturaTuru":     {Value: strings.TrimSpace(inv.InvoiceTypeCode)},
		"saticiVknTckn":  {Value: inv.Supplier.taxID()},
		"saticiUnvan":    {Value: inv.Supplier.name()},
		"aliciVknTckn":   {Value: inv.Customer.taxID()},
		"aliciUnvan":     {Value: inv.Customer.name()},
		"genelToplam":    {Value: strings.TrimSpace(inv.Total.Payable)},
	}

	var rows []invoice.Fields
	for _, tt := range inv.TaxTotals {
		for _, st := range tt.Subtotals {
			pct := strings.TrimSpace(st.Percent)
			if pct == "" {
				pct = strings.TrimSpace(st.CategoryPercent)
			}
			rows = append(rows, invoice.Fields{
				"kdvOrani":   {Value: pct},
				"kdvMatrahi": {Value: strings.TrimSpace(st.Taxable)},
				"kdvTutari":  {Value: strings.TrimSpace(st.Amount)},
			})
		}
	}

	return Normalize(req.Config, Result{Fields: fields, LineItems: rows}), nil
}

func parseUBL(data []byte) (ublInvoice, error) {
	var inv ublInvoice
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&inv); err != nil {
		return ublInvoice{}, err
	}
	return inv, nil
}

// ublDate converts an ISO issue date to DD.MM.YYYY, leaving other formats
// untouched.
func ublDate(s string) string {
	s = strings.TrimSpace(s)
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return s
	}
	return t.Format("02.01.2006")
}
