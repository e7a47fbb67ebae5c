package parser

import (
	"fmt"
	"strings"
	"time"
)

// tabularStrategy parses semicolon-separated order tables some shops attach
// as email text:
//
//	shop;Гастроном 24
//	date;2026-05-02
//	Молоко 930мл;1;шт;90.00;90.00
//	Сыр Гауда;0.4;кг;850.00;340.00
//
// Item columns: name;quantity;unit;unit_price;amount.
type tabularStrategy struct{}

func newTabularStrategy() *tabularStrategy {
	return &tabularStrategy{}
}

func (s *tabularStrategy) Name() string {
	return "tabular"
}

func (s *tabularStrategy) Matches(content string) bool {
	rows := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.Count(line, ";") >= 4 {
			rows++
		}
	}
	return rows >= 1 && strings.Contains(content, "shop;")
}

func (s *tabularStrategy) Parse(content string, receivedAt time.Time) (*ParsedReceipt, error) {
	receipt := &ParsedReceipt{}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, ";")
		switch {
		case len(fields) == 2 && fields[0] == "shop":
			receipt.ShopName = strings.TrimSpace(fields[1])
		case len(fields) == 2 && fields[0] == "date":
			if d, err := time.Parse("2006-01-02", strings.TrimSpace(fields[1])); err == nil {
				receipt.Date = &d
			}
		case len(fields) == 2 && fields[0] == "order":
			order := strings.TrimSpace(fields[1])
			receipt.OrderNumber = &order
		case len(fields) >= 5:
			item, err := s.parseItemRow(fields)
			if err != nil {
				continue
			}
			receipt.Items = append(receipt.Items, item)
		}
	}

	if receipt.ShopName == "" {
		return nil, fmt.Errorf("no shop row found")
	}
	if len(receipt.Items) == 0 {
		return nil, fmt.Errorf("no item rows found")
	}

	if receipt.Date == nil && !receivedAt.IsZero() {
		d := receivedAt
		receipt.Date = &d
	}

	// Sum of line amounts serves as the total; tabular mails carry none.
	var total float64
	for _, item := range receipt.Items {
		if item.Amount != nil {
			total += *item.Amount
		}
	}
	if total > 0 {
		receipt.Total = &total
	}

	return receipt, nil
}

func (s *tabularStrategy) parseItemRow(fields []string) (ParsedItem, error) {
	qty, err := parseDecimal(strings.TrimSpace(fields[1]))
	if err != nil {
		return ParsedItem{}, fmt.Errorf("bad quantity: %w", err)
	}

	item := ParsedItem{
		RawName:      strings.TrimSpace(fields[0]),
		Quantity:     qty,
		QuantityUnit: strings.TrimSpace(fields[2]),
	}

	if unitPrice, err := parseDecimal(strings.TrimSpace(fields[3])); err == nil {
		item.UnitPrice = &unitPrice
	}
	if amount, err := parseDecimal(strings.TrimSpace(fields[4])); err == nil {
		item.Amount = &amount
	}

	item.PackageUnit, item.PackageQuantity = ExtractPackage(item.RawName)
	return item, nil
}
