package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tender-radar/radar-cli/internal/db"
)

// Column layouts and row builders for each normalized table. Upstream items
// arrive as loosely-typed JSON objects; builders coerce fields with the as*
// helpers and tolerate absent keys (nil column values).

var trdBuyColumns = []string{
	"id", "number_anno", "name_ru", "name_kz", "ref_trade_methods_id",
	"publish_date", "start_date", "end_date", "total_sum", "ref_buy_status_id",
	"org_bin", "system_id", "singl_org_sign", "is_light_industry",
	"is_construction_work", "last_update_at",
}

func trdBuyRow(item map[string]any) []any {
	return []any{
		asInt64(item["id"]),
		asString(item["number_anno"]),
		asString(item["name_ru"]),
		asString(item["name_kz"]),
		asInt64(item["ref_trade_methods_id"]),
		asTime(item["publish_date"]),
		asTime(item["start_date"]),
		asTime(item["end_date"]),
		asFloat(item["total_sum"]),
		asInt64(item["ref_buy_status_id"]),
		asString(item["org_bin"]),
		asInt64(item["system_id"]),
		asInt64(item["singl_org_sign"]),
		asInt64(item["is_light_industry"]),
		asInt64(item["is_construction_work"]),
		asTime(item["index_date"]),
	}
}

var lotsColumns = []string{
	"id", "trd_buy_id", "lot_number", "name_ru", "name_kz", "amount",
	"customer_bin", "customer_name", "dumping_flag", "union_lots_flag",
	"ref_lot_status_id", "singl_org_sign", "is_light_industry",
	"is_construction_work", "disable_person_id", "system_id", "last_update_at",
}

func lotRow(item map[string]any) []any {
	return []any{
		asInt64(item["id"]),
		asInt64(firstOf(item, "trd_buy_id", "buy_id")),
		asString(item["lot_number"]),
		asString(item["name_ru"]),
		asString(item["name_kz"]),
		asFloat(item["amount"]),
		asString(item["customer_bin"]),
		asString(item["customer_name_ru"]),
		asBool(item["dumping_flag"]),
		asBool(item["union_lots_flag"]),
		asInt64(item["ref_lot_status_id"]),
		asInt64(item["singl_org_sign"]),
		asInt64(item["is_light_industry"]),
		asInt64(item["is_construction_work"]),
		asInt64(item["disable_person_id"]),
		asInt64(item["system_id"]),
		asTime(item["index_date"]),
	}
}

var trdAppColumns = []string{
	"id", "buy_id", "supplier_id", "supplier_biin", "cr_fio", "mod_fio",
	"prot_id", "prot_number", "date_apply", "system_id", "last_update_at",
}

func trdAppRow(item map[string]any) []any {
	return []any{
		asInt64(item["id"]),
		asInt64(item["buy_id"]),
		asInt64(item["supplier_id"]),
		asString(item["supplier_bin_iin"]),
		asString(item["cr_fio"]),
		asString(item["mod_fio"]),
		asInt64(item["prot_id"]),
		asString(item["prot_number"]),
		asTime(item["date_apply"]),
		asInt64(item["system_id"]),
		asTime(item["index_date"]),
	}
}

var trdAppLotsColumns = []string{
	"id", "trd_app_id", "lot_id", "status_id", "price", "amount",
	"discount_value", "discount_price",
}

// appLotRows extracts the nested per-lot bid rows of one application.
func appLotRows(item map[string]any) [][]any {
	appID := asInt64(item["id"])
	nested, ok := item["app_lots"].([]any)
	if !ok {
		return nil
	}
	var rows [][]any
	for _, raw := range nested {
		al, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, []any{
			asInt64(al["id"]),
			appID,
			asInt64(al["lot_id"]),
			asInt64(al["status_id"]),
			asFloat(al["price"]),
			asFloat(al["amount"]),
			asFloat(al["discount_value"]),
			asFloat(al["discount_price"]),
		})
	}
	return rows
}

var contractColumns = []string{
	"id", "trd_buy_id", "contract_number", "contract_number_sys",
	"trd_buy_number_anno", "customer_bin", "supplier_biin",
	"contract_sum_wnds", "sign_date", "plan_exec_date", "fakt_exec_date",
	"fakt_sum", "ref_contract_status_id", "ref_contract_type_id", "parent_id",
	"root_id", "supplier_legal_address", "customer_legal_address", "is_gu",
	"exchange_rate", "system_id", "last_update_at",
}

func contractRow(item map[string]any) []any {
	return []any{
		asInt64(item["id"]),
		asInt64(item["trd_buy_id"]),
		asString(item["contract_number"]),
		asString(item["contract_number_sys"]),
		asString(item["trd_buy_number_anno"]),
		asString(item["customer_bin"]),
		asString(item["supplier_biin"]),
		asFloat(item["contract_sum_wnds"]),
		asTime(firstOf(item, "sign_date", "crdate")),
		asTime(item["plan_exec_date"]),
		asTime(item["fakt_exec_date"]),
		asFloat(item["fakt_sum"]),
		asInt64(item["ref_contract_status_id"]),
		asInt64(item["ref_contract_type_id"]),
		asInt64(item["parent_id"]),
		asInt64(item["root_id"]),
		asString(item["supplier_legal_address"]),
		asString(item["customer_legal_address"]),
		asInt64(item["is_gu"]),
		asFloat(item["exchange_rate"]),
		asInt64(item["system_id"]),
		asTime(item["last_update_date"]),
	}
}

var subjectColumns = []string{
	"id", "bin", "iin", "name_ru", "name_kz", "full_name_ru", "regdate",
	"crdate", "year", "type_supplier", "mark_small_employer", "mark_resident",
	"oked_list", "krp_code", "kse_code", "ref_kopf_code", "qvazi", "customer",
	"supplier", "organizer", "is_single_org", "email", "phone", "website",
	"country_code", "system_id", "last_update_at",
}

func subjectRow(item map[string]any) []any {
	id := asInt64(item["pid"])
	if id == nil {
		id = asInt64(item["id"])
	}
	return []any{
		id,
		asString(item["bin"]),
		asString(item["iin"]),
		asString(item["name_ru"]),
		asString(item["name_kz"]),
		asString(item["full_name_ru"]),
		asTime(item["regdate"]),
		asTime(item["crdate"]),
		asInt64(item["year"]),
		asInt64(item["type_supplier"]),
		asBool(item["mark_small_employer"]),
		asBool(item["mark_resident"]),
		asString(item["oked_list"]),
		asString(item["krp_code"]),
		asString(item["kse_code"]),
		asString(item["ref_kopf_code"]),
		asBool(item["qvazi"]),
		asBool(item["customer"]),
		asBool(item["supplier"]),
		asBool(item["organizer"]),
		asBool(item["is_single_org"]),
		asString(item["email"]),
		asString(item["phone"]),
		asString(item["website"]),
		asInt64(item["country_code"]),
		asInt64(item["system_id"]),
		asTime(item["last_update_date"]),
	}
}

var rnuColumns = []string{
	"id", "pid", "supplier_biin", "supplier_name_ru", "start_date", "end_date",
	"reason", "system_id", "is_active",
}

func rnuRow(item map[string]any) []any {
	// Debarment entries arrive active; the end_date merge carries expiry.
	return []any{
		asInt64(item["id"]),
		asInt64(item["pid"]),
		asString(firstOf(item, "biin", "iin")),
		asString(item["name_ru"]),
		asTime(item["start_date"]),
		asTime(item["end_date"]),
		asString(firstOf(item, "reason_ru", "reason")),
		asInt64(item["system_id"]),
		true,
	}
}

var treasuryPayColumns = []string{
	"id", "nom_za", "contract_id", "dt_reg", "supplier", "rnn_supplier",
	"nom_dog", "dt_dog", "item_description", "pay_amount", "pay_date", "ppn",
	"espk", "gu", "fin_source", "index_date", "system_id",
}

func treasuryPayRow(item map[string]any) []any {
	return []any{
		asInt64(item["id"]),
		asString(item["nom_za"]),
		asInt64(item["contract_id"]),
		asTime(item["dt_reg"]),
		asString(item["supplier"]),
		asString(item["rnn_supplier"]),
		asString(item["nom_dog"]),
		asTime(item["dt_dog"]),
		asString(item["item_description"]),
		asFloat(item["pay_amount"]),
		asTime(item["pay_date"]),
		asString(item["ppn"]),
		asString(item["espk"]),
		asString(item["gu"]),
		asString(item["fin_source"]),
		asTime(item["index_date"]),
		asInt64(item["system_id"]),
	}
}

// Backfill merge rules: only the mutable columns are overwritten on conflict,
// so re-delivering an already-stored record is a no-op for identity fields.
var backfillUpsert = map[EntityKind]db.UpsertConfig{
	KindTrdBuy: {
		Table:        "trd_buy",
		Columns:      trdBuyColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"ref_buy_status_id", "total_sum", "last_update_at"},
	},
	KindLots: {
		Table:        "lots",
		Columns:      lotsColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"amount", "ref_lot_status_id", "dumping_flag", "last_update_at"},
	},
	KindTrdApp: {
		Table:        "trd_app",
		Columns:      trdAppColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"last_update_at"},
	},
	KindContract: {
		Table:        "contract",
		Columns:      contractColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"contract_sum_wnds", "fakt_sum", "fakt_exec_date", "ref_contract_status_id", "last_update_at"},
	},
	KindSubject: {
		Table:        "subject",
		Columns:      subjectColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"name_ru", "regdate", "crdate", "mark_small_employer", "mark_resident", "email", "phone", "last_update_at"},
	},
	KindRnu: {
		Table:        "rnu",
		Columns:      rnuColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"end_date", "is_active"},
	},
}

var trdAppLotsUpsert = db.UpsertConfig{
	Table:        "trd_app_lots",
	Columns:      trdAppLotsColumns,
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"status_id", "price", "amount"},
}

var treasuryPayUpsert = db.UpsertConfig{
	Table:        "treasury_pay",
	Columns:      treasuryPayColumns,
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"pay_amount"},
}

// rowBuilder returns the single-row builder for a kind (journal-driven path).
func rowBuilder(kind EntityKind) func(map[string]any) []any {
	switch kind {
	case KindTrdBuy:
		return trdBuyRow
	case KindLots:
		return lotRow
	case KindTrdApp:
		return trdAppRow
	case KindContract:
		return contractRow
	case KindSubject:
		return subjectRow
	case KindRnu:
		return rnuRow
	default:
		return nil
	}
}

// setColumn overwrites the row value for a named column; no-op when the
// column is not present in the layout.
func setColumn(cols []string, row []any, name string, v any) {
	for i, c := range cols {
		if c == name {
			row[i] = v
			return
		}
	}
}

// firstOf returns the first present, non-nil value among the named keys.
func firstOf(item map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := item[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// Field coercion helpers. Upstream JSON numbers arrive as float64; ids may
// also come through as strings.

func asInt64(v any) any {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		if n == "" {
			return nil
		}
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
		return nil
	default:
		return nil
	}
}

func asFloat(v any) any {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		if n == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
		return nil
	default:
		return nil
	}
}

func asString(v any) any {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%.0f", s)
	default:
		return nil
	}
}

func asBool(v any) any {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b == "1" || strings.EqualFold(b, "true")
	default:
		return nil
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func asTime(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return nil
}

// parseTimeValue is asTime for callers that want the concrete type.
func parseTimeValue(v any) (time.Time, bool) {
	t, ok := asTime(v).(time.Time)
	return t, ok
}
