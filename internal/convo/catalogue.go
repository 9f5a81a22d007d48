package convo

import (
	"fmt"
	"sort"
	"strings"

	"matjar-bot/internal/callback"
	"matjar-bot/internal/repo"
	"matjar-bot/internal/tg"
)

func activeOnly(items []repo.Product) []repo.Product {
	var res []repo.Product
	for _, item := range items {
		if item.Active {
			res = append(res, item)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		left := strings.ToLower(res[i].Category)
		right := strings.ToLower(res[j].Category)
		if left == right {
			return res[i].Price < res[j].Price
		}
		return left < right
	})
	return res
}

func groupByCategory(items []repo.Product) (map[string][]repo.Product, []string) {
	grouped := map[string][]repo.Product{}
	order := []string{}
	for _, item := range items {
		category := strings.TrimSpace(item.Category)
		if category == "" {
			category = "أخرى"
		}
		if _, ok := grouped[category]; !ok {
			order = append(order, category)
		}
		grouped[category] = append(grouped[category], item)
	}
	for _, categoryItems := range grouped {
		sort.Slice(categoryItems, func(i, j int) bool {
			return categoryItems[i].Price < categoryItems[j].Price
		})
	}
	return grouped, order
}

func formatCatalogue(items []repo.Product) string {
	categoryMap, order := groupByCategory(activeOnly(items))
	if len(order) == 0 {
		return "لا توجد منتجات متاحة حالياً."
	}

	var builder strings.Builder
	builder.WriteString("🎮 المنتجات المتاحة:\n")
	for _, category := range order {
		builder.WriteString(category)
		builder.WriteString(":\n")
		for _, item := range categoryMap[category] {
			builder.WriteString(fmt.Sprintf("  - %s — %d ل.س\n", item.Name, item.Price))
		}
	}
	builder.WriteString("\nاختر المنتج من الأزرار.")
	return strings.TrimSpace(builder.String())
}

// catalogueKeyboard renders one button per active product, two per row.
func catalogueKeyboard(items []repo.Product) *tg.InlineKeyboardMarkup {
	active := activeOnly(items)
	var rows [][]tg.InlineKeyboardButton
	var row []tg.InlineKeyboardButton
	for _, item := range active {
		data := callback.Format(callback.Data{Kind: callback.Product, ID: item.ID})
		row = append(row, tg.Btn(fmt.Sprintf("%s (%d)", item.Name, item.Price), data))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tg.Row(tg.Btn("⬅️ رجوع", callback.Format(callback.Data{Kind: callback.Menu, Arg: menuMain}))))
	return tg.Keyboard(rows...)
}
