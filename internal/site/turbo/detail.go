package turbo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxImages = 10

// Property labels as the site renders them, mapped to canonical field keys.
// The engine row is combined ("2.5 L / 180 a.g. / Dizel") and gets split
// separately.
var propertyKeys = map[string]string{
	"Şəhər":            "city",
	"Marka":            "make",
	"Model":            "model",
	"Buraxılış ili":    "year",
	"Ban növü":         "body_type",
	"Rəng":             "color",
	"Mühərrik":         "engine",
	"Yürüş":            "mileage",
	"Sürətlər qutusu":  "transmission",
	"Ötürücü":          "drivetrain",
	"Yeni":             "is_new",
	"Yerlərin sayı":    "seats_count",
	"Neçə sahibi olub": "prior_owners",
	"Vəziyyəti":        "condition",
}

var (
	digitsPattern    = regexp.MustCompile(`\d+`)
	csrfTokenPattern = regexp.MustCompile(`name="csrf-token"\s+content="([^"]+)"`)

	imageVariants = strings.NewReplacer("f460x343", "full", "f660x496", "full")
)

// Fields parses a detail page into the flat field map. Only keys the markup
// actually yields are set. An error means the markup matched nothing at all,
// which the worker records as a parse failure.
func (e *Extractor) Fields(detailHTML []byte) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(detailHTML))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	fields := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}

	set("title", cleanText(doc.Find("h1.product-title").First().Text()))
	set("price", cleanText(doc.Find("div.product-price__i--bold").First().Text()))

	doc.Find("div.product-properties__i").Each(func(_ int, prop *goquery.Selection) {
		label := cleanText(prop.Find(".product-properties__i-name").First().Text())
		value := cleanText(prop.Find("span.product-properties__i-value").First().Text())
		if label == "" || value == "" {
			return
		}
		key, ok := propertyKeys[strings.TrimSuffix(label, "?")]
		if !ok {
			if !strings.Contains(label, "bazar üçün yığılıb") {
				return
			}
			key = "market"
		}
		if key == "engine" {
			applyEngine(fields, value)
			return
		}
		fields[key] = value
	})

	set("description", cleanText(doc.Find("div.product-description__content").First().Text()))

	var extras []string
	doc.Find("ul.product-extras li").Each(func(_ int, li *goquery.Selection) {
		if v := cleanText(li.Text()); v != "" {
			extras = append(extras, v)
		}
	})
	if len(extras) > 0 {
		fields["extras"] = strings.Join(extras, " | ")
	}

	set("seller_name", cleanText(doc.Find("div.product-owner__info-name").First().Text()))
	set("seller_region", cleanText(doc.Find("div.product-owner__info-region").First().Text()))

	doc.Find("ul.product-statistics li").Each(func(_ int, li *goquery.Selection) {
		text := cleanText(li.Text())
		switch {
		case strings.Contains(text, "Yeniləndi"):
			set("updated_at", cleanText(strings.TrimPrefix(text, "Yeniləndi:")))
		case strings.Contains(text, "Baxışların sayı"):
			set("views_count", digitsPattern.FindString(text))
		}
	})

	if images := imageURLs(doc); len(images) > 0 {
		fields["images"] = strings.Join(images, " | ")
	}

	if len(fields) == 0 {
		return nil, errors.New("detail markup not recognized")
	}
	return fields, nil
}

// applyEngine splits the combined engine cell into volume, power, and fuel
// type, keeping whatever parts the site provided.
func applyEngine(fields map[string]string, value string) {
	keys := [...]string{"engine_volume", "engine_power", "fuel_type"}
	for i, part := range strings.Split(value, "/") {
		if i >= len(keys) {
			break
		}
		if v := cleanText(part); v != "" {
			fields[keys[i]] = v
		}
	}
}

// imageURLs collects gallery photos, rewriting the thumbnail variants the
// slider serves to the full-size originals.
func imageURLs(doc *goquery.Document) []string {
	var urls []string
	seen := make(map[string]struct{})
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, _ := img.Attr("src")
		if src == "" || !strings.Contains(src, "turbo.azstatic.com") || !strings.Contains(src, "uploads") {
			return true
		}
		full := imageVariants.Replace(src)
		if _, dup := seen[full]; dup {
			return true
		}
		seen[full] = struct{}{}
		urls = append(urls, full)
		return len(urls) < maxImages
	})
	return urls
}

// Token digs the CSRF token out of a detail page: the meta tag first, then
// the hidden form input, then a raw scan for markup goquery missed (the tag
// sometimes ships inside an inline script template).
func (e *Extractor) Token(detailHTML []byte) string {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(detailHTML)); err == nil {
		if v, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content"); ok && v != "" {
			return v
		}
		if v, ok := doc.Find(`input[name="authenticity_token"]`).Attr("value"); ok && v != "" {
			return v
		}
	}
	if m := csrfTokenPattern.FindSubmatch(detailHTML); m != nil {
		return string(m[1])
	}
	return ""
}

// SupplementaryFields decodes the phone reveal response. The endpoint
// returns a list of phone objects with a display form and a raw dialable
// form; raw numbers are preferred for the joined field.
func (e *Extractor) SupplementaryFields(body []byte) (map[string]string, error) {
	var payload struct {
		Phones []struct {
			Primary string `json:"primary"`
			Raw     string `json:"raw"`
		} `json:"phones"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode phones payload: %w", err)
	}

	fields := make(map[string]string)
	var numbers []string
	for _, phone := range payload.Phones {
		number := phone.Raw
		if number == "" {
			number = phone.Primary
		}
		if number == "" {
			continue
		}
		numbers = append(numbers, number)
		if _, ok := fields["phone_primary"]; !ok {
			primary := phone.Primary
			if primary == "" {
				primary = phone.Raw
			}
			fields["phone_primary"] = primary
		}
	}
	if len(numbers) > 0 {
		fields["phones"] = strings.Join(numbers, ";")
	}
	return fields, nil
}
