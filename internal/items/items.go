package items

type Category string

const (
	CategoryCurrency Category = "currency"
	CategoryCoin     Category = "coin"
	CategoryMarket   Category = "market"
)

// Item describes one displayable rate from the upstream feed.
//
// SellKey/BuyKey name the fields of the upstream JSON object (usd1/usd2
// style). Market items quote a single value, so BuyKey is empty there.
type Item struct {
	ID       string
	Category Category

	NameFa string
	Emoji  string

	SellKey string
	BuyKey  string

	// Kind controls number formatting: "int" for toman quotes,
	// "float" for USD-denominated markets.
	Kind string
}

func fx(id, nameFa, emoji, sellKey, buyKey string) Item {
	return Item{ID: id, Category: CategoryCurrency, NameFa: nameFa, Emoji: emoji, SellKey: sellKey, BuyKey: buyKey, Kind: "int"}
}

func coin(id, nameFa, sellKey, buyKey string) Item {
	return Item{ID: id, Category: CategoryCoin, NameFa: nameFa, Emoji: "🪙", SellKey: sellKey, BuyKey: buyKey, Kind: "int"}
}

func market(id, nameFa, emoji, key, kind string) Item {
	return Item{ID: id, Category: CategoryMarket, NameFa: nameFa, Emoji: emoji, SellKey: key, Kind: kind}
}

var All = []Item{
	// -------- CURRENCIES --------
	fx("usd", "دلار آمریکا", "💵", "usd1", "usd2"),
	fx("eur", "یورو", "💶", "eur1", "eur2"),
	fx("gbp", "پوند انگلیس", "💷", "gbp1", "gbp2"),
	fx("chf", "فرانک سوئیس", "🇨🇭", "chf1", "chf2"),
	fx("cad", "دلار کانادا", "🇨🇦", "cad1", "cad2"),
	fx("aud", "دلار استرالیا", "🇦🇺", "aud1", "aud2"),
	fx("sek", "کرون سوئد", "🇸🇪", "sek1", "sek2"),
	fx("nok", "کرون نروژ", "🇳🇴", "nok1", "nok2"),
	fx("rub", "روبل روسیه", "🇷🇺", "rub1", "rub2"),
	fx("thb", "بات تایلند", "🇹🇭", "thb1", "thb2"),
	fx("sgd", "دلار سنگاپور", "🇸🇬", "sgd1", "sgd2"),
	fx("hkd", "دلار هنگ‌کنگ", "🇭🇰", "hkd1", "hkd2"),
	fx("azn", "منات آذربایجان", "🇦🇿", "azn1", "azn2"),
	fx("amd", "درام ارمنستان (۱۰)", "🇦🇲", "amd1", "amd2"),
	fx("dkk", "کرون دانمارک", "🇩🇰", "dkk1", "dkk2"),
	fx("aed", "درهم امارات", "🇦🇪", "aed1", "aed2"),
	fx("jpy", "ین ژاپن (۱۰)", "🇯🇵", "jpy1", "jpy2"),
	fx("try", "لیر ترکیه", "🇹🇷", "try1", "try2"),
	fx("cny", "یوان چین", "🇨🇳", "cny1", "cny2"),
	fx("sar", "ریال عربستان", "🇸🇦", "sar1", "sar2"),
	fx("inr", "روپیه هند", "🇮🇳", "inr1", "inr2"),
	fx("myr", "رینگیت مالزی", "🇲🇾", "myr1", "myr2"),
	fx("afn", "افغانی افغانستان", "🇦🇫", "afn1", "afn2"),
	fx("kwd", "دینار کویت", "🇰🇼", "kwd1", "kwd2"),
	fx("iqd", "دینار عراق (۱۰۰)", "🇮🇶", "iqd1", "iqd2"),
	fx("bhd", "دینار بحرین", "🇧🇭", "bhd1", "bhd2"),
	fx("omr", "ریال عمان", "🇴🇲", "omr1", "omr2"),
	fx("qar", "ریال قطر", "🇶🇦", "qar1", "qar2"),

	// -------- COINS --------
	coin("coin_azadi", "آزادی", "azadi1", "azadi12"),
	coin("coin_emami", "امامی", "emami1", "emami12"),
	coin("coin_half", "نیم", "azadi1_2", "azadi1_22"),
	coin("coin_quarter", "ربع", "azadi1_4", "azadi1_42"),
	coin("coin_gerami", "گرمی", "azadi1g", "azadi1g2"),

	// -------- MARKETS --------
	market("gold_mithqal", "طلا مثقال", "⚜️", "mithqal", "int"),
	market("gold_gram", "طلا گرمی", "⚜️", "gol18", "int"),
	market("gold_ounce", "طلا اونس", "🌍", "ounce", "float"),
	market("btc", "بیت‌کوین", "₿", "bitcoin", "float"),
}

var byID = func() map[string]Item {
	m := make(map[string]Item, len(All))
	for _, it := range All {
		m[it.ID] = it
	}
	return m
}()

func ByID(id string) (Item, bool) {
	it, ok := byID[id]
	return it, ok
}

// ByCategory returns the catalog items of one category in declaration order.
func ByCategory(c Category) []Item {
	var out []Item
	for _, it := range All {
		if it.Category == c {
			out = append(out, it)
		}
	}
	return out
}

// Defaults is the selection a freshly registered chat starts with.
func Defaults() []string {
	return []string{"usd", "eur", "gbp", "coin_emami", "coin_azadi", "gold_gram", "btc"}
}

// Key resolves the upstream field an item is compared/displayed on for the
// given price side. Markets only have one side.
func Key(it Item, side string) string {
	if it.BuyKey == "" || side != "buy" {
		return it.SellKey
	}
	return it.BuyKey
}
