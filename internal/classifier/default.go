package classifier

import "sort"

// OtherCategory receives anything no keyword claims.
const OtherCategory = "Others"

// BaseKnowledge maps each built-in category to indicative terms.
var BaseKnowledge = map[string][]string{
	"Food":          {"food", "restaurant", "dining", "meal", "pizza", "burger", "cafe", "coffee", "lunch", "dinner", "breakfast", "swiggy", "zomato", "snack"},
	"Groceries":     {"grocery", "supermarket", "dmart", "market", "mart", "provision", "vegetable", "fruit", "milk", "bigbasket", "blinkit"},
	"Fuel":          {"petrol", "diesel", "fuel", "hp", "ioc", "bpcl", "gas station", "cng"},
	"Shopping":      {"shopping", "clothes", "fashion", "store", "mall", "lifestyle", "myntra", "ajio", "amazon", "flipkart", "shirt", "shoe"},
	"Bills":         {"electricity", "bill", "water", "postpaid", "prepaid", "mobile", "broadband", "wifi", "recharge", "rent"},
	"Health":        {"medical", "chemist", "pharmacy", "hospital", "clinic", "medicine", "doctor", "apollo"},
	"Travel":        {"ola", "uber", "bus", "train", "flight", "travel", "taxi", "cab", "metro", "hotel"},
	"Entertainment": {"movie", "cinema", "pvr", "inox", "entertainment", "concert", "game"},
	"Subscriptions": {"subscription", "netflix", "amazon prime", "spotify", "hotstar", "youtube premium"},
	"Salary":        {"salary", "payroll", "wage", "stipend", "bonus", "paycheck"},
	"Savings":       {"saving", "deposit", "fd", "rd", "sip", "mutual fund", "investment", "ppf"},
	OtherCategory:   {},
}

const (
	defaultKeywordWeight = 4.0
	defaultOtherBias     = 0.5
)

// DefaultModel builds a model from BaseKnowledge so the pipeline works
// without a trained artifact.
func DefaultModel() *LinearModel {
	m := &LinearModel{
		Bias:    map[string]float64{OtherCategory: defaultOtherBias},
		Weights: make(map[string]map[string]float64),
		Version: "base-knowledge",
	}
	for label, terms := range BaseKnowledge {
		m.Labels = append(m.Labels, label)
		for _, term := range terms {
			if m.Weights[term] == nil {
				m.Weights[term] = make(map[string]float64)
			}
			m.Weights[term][label] += defaultKeywordWeight
		}
	}
	sort.Strings(m.Labels)
	return m
}
