package webextract

import (
	"strings"

	"github.com/tidwall/gjson"
)

func ldTypes(r gjson.Result) map[string]struct{} {
	types := map[string]struct{}{}
	t := field(r, "@type")
	switch {
	case t.Type == gjson.String:
		types[strings.ToLower(t.Str)] = struct{}{}
	case t.IsArray():
		for _, e := range t.Array() {
			types[strings.ToLower(e.String())] = struct{}{}
		}
	}
	return types
}

func hasType(types map[string]struct{}, names ...string) bool {
	for _, n := range names {
		if _, ok := types[n]; ok {
			return true
		}
	}
	return false
}

// visitLD interprets schema.org Product, MenuItem, ItemList, Menu and
// Restaurant nodes. category carries the enclosing menu section name.
func (v *visitor) visitLD(r gjson.Result, depth int, category string) {
	if depth > maxJSONDepth {
		return
	}
	if r.IsArray() {
		for _, e := range r.Array() {
			v.visitLD(e, depth+1, category)
		}
		return
	}
	if !r.IsObject() {
		return
	}

	if graph := field(r, "@graph"); graph.Exists() {
		v.visitLD(graph, depth+1, category)
	}

	types := ldTypes(r)
	switch {
	case hasType(types, "product", "menuitem"):
		if item, ok := ldItem(r, category); ok {
			v.add(item)
		}

	case hasType(types, "itemlist"):
		for _, el := range field(r, "itemListElement").Array() {
			if inner := field(el, "item"); inner.IsObject() {
				v.visitLD(inner, depth+1, category)
				continue
			}
			v.visitLD(el, depth+1, category)
		}

	case hasType(types, "menu", "menusection"):
		section := category
		if hasType(types, "menusection") {
			if name := stringOf(field(r, "name")); name != "" {
				section = name
			}
		}
		v.visitLD(field(r, "hasMenuSection"), depth+1, section)
		v.visitLD(field(r, "hasMenuItem"), depth+1, section)

	case hasType(types, "restaurant", "foodestablishment", "cafeorcoffeeshop", "barorpub", "bakery", "hotel", "localbusiness"):
		// hasMenu may also be a plain URL, which carries nothing to extract
		if menu := field(r, "hasMenu"); menu.IsObject() || menu.IsArray() {
			v.visitLD(menu, depth+1, category)
		}
	}
}

func ldItem(r gjson.Result, category string) (Item, bool) {
	name := stringOf(field(r, "name"))
	if name == "" {
		return Item{}, false
	}

	item := Item{
		Name:        name,
		Description: stringOf(field(r, "description")),
		Category:    category,
	}
	if c := stringOf(field(r, "category")); c != "" {
		item.Category = c
	}

	offers := field(r, "offers")
	if offers.IsArray() && len(offers.Array()) > 0 {
		offers = offers.Array()[0]
	}
	if offers.IsObject() {
		item.Price, _ = priceOf(field(offers, "price", "lowPrice"), 0)
		item.Currency = stringOf(field(offers, "priceCurrency"))
		if spec := field(offers, "priceSpecification"); item.Price == "" && spec.Exists() {
			item.Price, item.Currency = priceOf(spec, 0)
			if c := stringOf(field(spec, "priceCurrency")); c != "" {
				item.Currency = c
			}
		}
	}
	return item, true
}
