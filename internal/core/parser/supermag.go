package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// supermagStrategy parses the plain-text order confirmation emails the
// Супермаг chain sends. Layout:
//
//	Супермаг — Кассовый чек
//	Магазин: Супермаг на Ленина
//	Дата: 02.05.2026
//	Заказ: A-12345
//	1. Молоко 2.5% 930мл  1 x 90.00 = 90.00
//	2. Хлеб Бородинский  2 x 45.50 = 91.00
//	ИТОГО: 181.00
type supermagStrategy struct {
	lineRe  *regexp.Regexp
	shopRe  *regexp.Regexp
	dateRe  *regexp.Regexp
	orderRe *regexp.Regexp
	totalRe *regexp.Regexp
}

func newSupermagStrategy() *supermagStrategy {
	return &supermagStrategy{
		lineRe:  regexp.MustCompile(`(?m)^\s*\d+\.\s+(.+?)\s+(\d+(?:[.,]\d+)?)\s*(шт|кг|г|л|мл)?\s*x\s*(\d+(?:[.,]\d+)?)\s*=\s*(\d+(?:[.,]\d+)?)\s*$`),
		shopRe:  regexp.MustCompile(`(?m)^Магазин:\s*(.+)$`),
		dateRe:  regexp.MustCompile(`(?m)^Дата:\s*(\d{2}\.\d{2}\.\d{4})\s*$`),
		orderRe: regexp.MustCompile(`(?m)^Заказ:\s*(\S+)\s*$`),
		totalRe: regexp.MustCompile(`(?m)^ИТОГО:\s*(\d+(?:[.,]\d+)?)\s*$`),
	}
}

func (s *supermagStrategy) Name() string {
	return "supermag"
}

func (s *supermagStrategy) Matches(content string) bool {
	return strings.Contains(content, "Кассовый чек") && strings.Contains(content, "Супермаг")
}

func (s *supermagStrategy) Parse(content string, receivedAt time.Time) (*ParsedReceipt, error) {
	receipt := &ParsedReceipt{
		ShopName: "Супермаг",
	}

	if m := s.shopRe.FindStringSubmatch(content); m != nil {
		receipt.ShopName = strings.TrimSpace(m[1])
	}
	if m := s.dateRe.FindStringSubmatch(content); m != nil {
		if d, err := time.Parse("02.01.2006", m[1]); err == nil {
			receipt.Date = &d
		}
	}
	if receipt.Date == nil && !receivedAt.IsZero() {
		d := receivedAt
		receipt.Date = &d
	}
	if m := s.orderRe.FindStringSubmatch(content); m != nil {
		order := m[1]
		receipt.OrderNumber = &order
	}
	if m := s.totalRe.FindStringSubmatch(content); m != nil {
		if total, err := parseDecimal(m[1]); err == nil {
			receipt.Total = &total
		}
	}

	for _, m := range s.lineRe.FindAllStringSubmatch(content, -1) {
		qty, err := parseDecimal(m[2])
		if err != nil {
			continue
		}
		unitPrice, err := parseDecimal(m[4])
		if err != nil {
			continue
		}
		amount, err := parseDecimal(m[5])
		if err != nil {
			continue
		}

		item := ParsedItem{
			RawName:      strings.TrimSpace(m[1]),
			Quantity:     qty,
			QuantityUnit: m[3],
			UnitPrice:    &unitPrice,
			Amount:       &amount,
		}
		item.PackageUnit, item.PackageQuantity = ExtractPackage(item.RawName)
		receipt.Items = append(receipt.Items, item)
	}

	if len(receipt.Items) == 0 {
		return nil, fmt.Errorf("no item lines matched")
	}

	return receipt, nil
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}
