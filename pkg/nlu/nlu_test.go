package nlu

import (
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/menu"
)

func testMenu() []menu.Item {
	return []menu.Item{
		{ID: 1, Name: "Buffalo Wings", Category: "appetizers", PriceCents: 1299, IsAvailable: true},
		{ID: 2, Name: "Mushroom Swiss Burger", Category: "main-courses", PriceCents: 1599, IsAvailable: true},
		{ID: 3, Name: "House Salad", Category: "appetizers", PriceCents: 899, IsAvailable: true},
		{ID: 4, Name: "Draft Beer", Category: "drinks", PriceCents: 599, IsAvailable: true},
		{ID: 5, Name: "Iced Tea", Category: "drinks", PriceCents: 299, IsAvailable: true},
		{ID: 6, Name: "Classic Burger", Category: "main-courses", PriceCents: 1399, IsAvailable: true},
	}
}

func userLog(lines ...string) []Turn {
	var log []Turn
	for _, l := range lines {
		log = append(log, Turn{Role: RoleUser, Content: l})
	}
	return log
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestExtractReservationInfoSingleDiner(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, loc)
	log := userLog("My name is Alice Lee, party of two, tomorrow at 7 pm, phone five five five one two three four five six seven.")

	info := ExtractReservationInfo(log, "", now, loc)

	if info.Name != "Alice Lee" {
		t.Errorf("Name = %q, want Alice Lee", info.Name)
	}
	if info.PartySize != 2 {
		t.Errorf("PartySize = %d, want 2", info.PartySize)
	}
	if info.Date != "2025-06-10" {
		t.Errorf("Date = %q, want 2025-06-10", info.Date)
	}
	if info.Time != "19:00" {
		t.Errorf("Time = %q, want 19:00", info.Time)
	}
	if info.PhoneNumber != "+15551234567" {
		t.Errorf("PhoneNumber = %q, want +15551234567", info.PhoneNumber)
	}
	if len(info.Missing) != 0 {
		t.Errorf("Missing = %v, want none", info.Missing)
	}
}

func TestExtractReservationInfoCompoundName(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, loc)
	log := userLog("Jim and Bob, party of two, tonight at 8, Jim will have the Mushroom Swiss Burger, Bob will have the House Salad.")

	info := ExtractReservationInfo(log, "+14125550100", now, loc)

	if info.Name != "Jim" || len(info.AdditionalNames) != 1 || info.AdditionalNames[0] != "Bob" {
		t.Errorf("names = %q %v, want Jim [Bob]", info.Name, info.AdditionalNames)
	}
	if info.Time != "20:00" {
		t.Errorf("Time = %q, want 20:00", info.Time)
	}
	if info.Date != "2025-06-09" {
		t.Errorf("Date = %q, want 2025-06-09", info.Date)
	}
	if info.PhoneNumber != "+14125550100" {
		t.Errorf("expected caller ID fallback, got %q", info.PhoneNumber)
	}
}

func TestExtractNameNeverInvents(t *testing.T) {
	tests := []struct {
		name string
		log  []Turn
		want string
	}{
		{"intro", userLog("hi, this is maria gonzalez calling"), "Maria Gonzalez"},
		{"looking", userLog("I'm looking for a table tomorrow"), ""},
		{"hungry", userLog("Hi I'm hungry and want a table"), ""},
		{"fine", userLog("I'm fine thanks"), ""},
		{"calling", userLog("I'm calling about dinner"), ""},
		{"interested", userLog("I'm interested in a booking"), ""},
		{"here", userLog("I'm here with friends"), ""},
		{"name after adjective turn", userLog("I'm hungry", "I'm Dana"), "Dana"},
		{"standalone", userLog("I'd like a table", "Priya"), "Priya"},
		{"standalone non-name", userLog("okay"), ""},
		{"yes", userLog("yes"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractName(tt.log).Name; got != tt.want {
				t.Errorf("ExtractName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractPartySize(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"party of 4", 4},
		{"a table for two people", 2},
		{"just one person", 1},
		{"reservation for six", 6},
		{"table for 7 pm", 0},
		{"party of 25", 0},
		{"just me tonight", 1},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := ExtractPartySize(tt.text); got != tt.want {
				t.Errorf("ExtractPartySize(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractTime(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"at 7pm", "19:00"},
		{"7 o'clock", "19:00"},
		{"seven pm", "19:00"},
		{"seven thirty pm", "19:30"},
		{"19:00", "19:00"},
		{"at 6:45", "18:45"},
		{"11 am", "11:00"},
		{"2025-06-09T18:30", "18:30"},
		{"noon", "12:00"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ExtractTime(tt.text)
			if !ok || got != tt.want {
				t.Errorf("ExtractTime(%q) = %q, %v; want %q", tt.text, got, ok, tt.want)
			}
		})
	}
}

func TestExtractDate(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, loc) // Monday
	tests := []struct {
		text string
		want string
	}{
		{"today", "2025-06-09"},
		{"tomorrow", "2025-06-10"},
		{"June 9 2025", "2025-06-09"},
		{"06/12/2025", "2025-06-12"},
		{"2025-06-20", "2025-06-20"},
		{"2025-06-20T19:00", "2025-06-20"},
		{"june fifteenth", "2025-06-15"},
		{"on friday", "2025-06-13"},
		{"next monday", "2025-06-16"},
		{"January 3", "2026-01-03"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ExtractDate(tt.text, now, loc)
			if !ok || got != tt.want {
				t.Errorf("ExtractDate(%q) = %q, %v; want %q", tt.text, got, ok, tt.want)
			}
		})
	}
}

func TestValidateNotPast(t *testing.T) {
	now := time.Date(2025, 6, 9, 19, 0, 30, 0, time.UTC)
	if err := ValidateNotPast("2025-06-09", "19:00", now, time.UTC); err != nil {
		t.Errorf("within buffer should pass: %v", err)
	}
	if err := ValidateNotPast("2025-06-09", "18:00", now, time.UTC); !errors.Is(err, ErrPastDateTime) {
		t.Errorf("expected ErrPastDateTime, got %v", err)
	}
}

func TestSplitISODateTime(t *testing.T) {
	d, c, ok := SplitISODateTime("2025-06-09T19:00:00")
	if !ok || d != "2025-06-09" || c != "19:00" {
		t.Errorf("SplitISODateTime = %q %q %v", d, c, ok)
	}
	if _, _, ok := SplitISODateTime("tomorrow"); ok {
		t.Error("expected no split for plain text")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"(412) 555-0100", "+14125550100", true},
		{"14125550100", "+14125550100", true},
		{"+14125550100", "+14125550100", true},
		{"555-0100", "+15555550100", true},
		{"12345", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizePhone(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("NormalizePhone(%q) = %q, %v", tt.in, got, ok)
			}
			if ok {
				again, _ := NormalizePhone(got)
				if again != got {
					t.Errorf("NormalizePhone not idempotent: %q -> %q", got, again)
				}
			}
		})
	}
}

func TestExtractPhoneNeedsNumber(t *testing.T) {
	if _, err := ExtractPhone("party of two tomorrow", ""); !errors.Is(err, ErrNeedPhoneNumber) {
		t.Errorf("expected ErrNeedPhoneNumber, got %v", err)
	}
}

func TestWordsToDigits(t *testing.T) {
	got := WordsToDigits("call me at five five five, one two three four")
	want := "call me at 555, 1234"
	if got != want {
		t.Errorf("WordsToDigits() = %q, want %q", got, want)
	}
}

func TestExtractFoodItems(t *testing.T) {
	items := ExtractFoodItems("Alice wants the Buffalo Wings and a Draft Beer.", testMenu())
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %+v", items)
	}
	if items[0].MenuItemID != 1 || items[1].MenuItemID != 4 {
		t.Errorf("unexpected items: %+v", items)
	}
	for _, it := range items {
		if it.Quantity != 1 {
			t.Errorf("%s quantity = %d, want 1", it.Name, it.Quantity)
		}
	}
}

func TestExtractFoodQuantities(t *testing.T) {
	items := ExtractFoodItems("I'll have two iced teas and 3 house salads", testMenu())
	got := map[int64]int{}
	for _, it := range items {
		got[it.MenuItemID] = it.Quantity
	}
	if got[5] != 2 || got[3] != 3 {
		t.Errorf("unexpected quantities: %v", got)
	}
}

func TestScoreMatch(t *testing.T) {
	if s := ScoreMatch("buffalo wings", "Buffalo Wings"); s != ScoreExact {
		t.Errorf("exact score = %v", s)
	}
	if s := ScoreMatch("the house salad please", "House Salad"); s != ScoreSubstring {
		t.Errorf("substring score = %v", s)
	}
	if s := ScoreMatch("wings", "Buffalo Wings"); s < ScoreMinimum || s >= ScoreExact {
		t.Errorf("fuzzy score = %v", s)
	}
	if s := ScoreMatch("spaghetti", "Draft Beer"); s >= ScoreMinimum {
		t.Errorf("unrelated score = %v", s)
	}
}

func TestAssignItemsToPeople(t *testing.T) {
	text := "Jim and Bob, party of two, tonight at 8, Jim will have the Mushroom Swiss Burger, Bob will have the House Salad."
	found := ExtractFoodItems(text, testMenu())
	orders := AssignItemsToPeople(text, []string{"Jim", "Bob"}, found, testMenu())

	if len(orders) != 2 {
		t.Fatalf("expected 2 party orders, got %d", len(orders))
	}
	if len(orders[0].Items) != 1 || orders[0].Items[0].MenuItemID != 2 {
		t.Errorf("Jim items = %+v", orders[0].Items)
	}
	if len(orders[1].Items) != 1 || orders[1].Items[0].MenuItemID != 3 {
		t.Errorf("Bob items = %+v", orders[1].Items)
	}
}

func TestAssignRoundRobinFoodFirst(t *testing.T) {
	items := []FoodMatch{
		{MenuItemID: 4, Name: "Draft Beer", Quantity: 1, Position: -1},
		{MenuItemID: 1, Name: "Buffalo Wings", Quantity: 1, Position: -1},
		{MenuItemID: 6, Name: "Classic Burger", Quantity: 1, Position: -1},
	}
	orders := AssignItemsToPeople("", []string{"Ann", "Ben"}, items, testMenu())
	for _, o := range orders {
		food := 0
		for _, it := range o.Items {
			if it.MenuItemID != 4 {
				food++
			}
		}
		if food != 1 {
			t.Errorf("%s should get exactly one food item, got %+v", o.PersonName, o.Items)
		}
	}
}

func TestDetect(t *testing.T) {
	confirmPrompt := "Alice: Buffalo Wings, Draft Beer. Total $18.98. Is that correct?"
	tests := []struct {
		name     string
		user     []string
		prompt   string
		awaiting bool
		want     Decision
	}{
		{"explicit", []string{"yes, that's correct"}, confirmPrompt, true, DecisionConfirm},
		{"simple yes after prompt", []string{"yes"}, confirmPrompt, true, DecisionConfirm},
		{"simple yes after info prompt", []string{"yes"}, "What time works for you?", false, DecisionNone},
		{"modify", []string{"no, change the beer to iced tea"}, confirmPrompt, true, DecisionModify},
		{"cancel", []string{"actually let's start over"}, confirmPrompt, true, DecisionCancel},
		{"payment while awaiting", []string{"I want to pay now"}, "Anything else?", true, DecisionConfirm},
		{"payment not awaiting", []string{"I want to pay now"}, "Anything else?", false, DecisionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.user, tt.prompt, tt.awaiting); got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractConversationContext(t *testing.T) {
	log := []Turn{
		{Role: RoleAssistant, Content: "Your reservation number is 123456."},
		{Role: RoleUser, Content: "Thanks. I'd like to pay the bill with a credit card."},
	}
	ctx := ExtractConversationContext(log)
	if ctx.ReservationNumber != "123456" {
		t.Errorf("ReservationNumber = %q", ctx.ReservationNumber)
	}
	if !ctx.PaymentRequested {
		t.Error("expected payment request")
	}

	spoken := ExtractConversationContext(userLog("my reservation is seven eight nine zero one two"))
	if spoken.ReservationNumber != "789012" {
		t.Errorf("spoken ReservationNumber = %q", spoken.ReservationNumber)
	}
}

func TestExtractOrderNumber(t *testing.T) {
	if got := ExtractOrderNumber("Checking on order number 45678 please"); got != "45678" {
		t.Errorf("ExtractOrderNumber = %q", got)
	}
	if got := ExtractOrderNumber("my table is 123456"); got != "" {
		t.Errorf("expected no order number, got %q", got)
	}
}
