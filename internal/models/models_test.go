package models

import (
	"testing"
)

func TestMarketValidate(t *testing.T) {
	tests := []struct {
		name    string
		market  Market
		wantErr bool
	}{
		{
			name: "valid market",
			market: Market{
				ID:               "tok1",
				ContractAddress:  "0xABC",
				Name:             "Pepe",
				Symbol:           "PEPE",
				MarketCapUSD:     420000000,
				DevWalletPercent: "1.20",
				RiskScore:        12,
			},
			wantErr: false,
		},
		{
			name:    "empty contract address",
			market:  Market{ID: "tok1"},
			wantErr: true,
		},
		{
			name:    "empty ID",
			market:  Market{ContractAddress: "0xABC"},
			wantErr: true,
		},
		{
			name:    "negative market cap",
			market:  Market{ID: "tok1", ContractAddress: "0xABC", MarketCapUSD: -1},
			wantErr: true,
		},
		{
			name:    "risk score out of range",
			market:  Market{ID: "tok1", ContractAddress: "0xABC", RiskScore: 101},
			wantErr: true,
		},
		{
			name:    "dev wallet percent not a number",
			market:  Market{ID: "tok1", ContractAddress: "0xABC", DevWalletPercent: "lots"},
			wantErr: true,
		},
		{
			name:    "dev wallet percent above 100",
			market:  Market{ID: "tok1", ContractAddress: "0xABC", DevWalletPercent: "150"},
			wantErr: true,
		},
		{
			name:    "negative counters",
			market:  Market{ID: "tok1", ContractAddress: "0xABC", TrashVoteCount: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.market.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Market.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMarketNormalize(t *testing.T) {
	m := Market{ContractAddress: "  0xABC "}
	m.Normalize()
	if m.ID != "0xABC" {
		t.Errorf("ID should default to contract address, got %q", m.ID)
	}
	if m.DevWalletPercent != "0" {
		t.Errorf("DevWalletPercent should default to 0, got %q", m.DevWalletPercent)
	}
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		input   string
		want    Choice
		wantErr bool
	}{
		{"W", ChoiceW, false},
		{"w", ChoiceW, false},
		{"TRASH", ChoiceTrash, false},
		{" trash ", ChoiceTrash, false},
		{"L", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseChoice(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChoice(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseChoice(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseMessageKind(t *testing.T) {
	tests := []struct {
		input     string
		want      MessageKind
		wantAlert bool
		wantErr   bool
	}{
		{"", KindDefault, false, false},
		{"default", KindDefault, false, false},
		{"alert-whale", KindAlertWhale, true, false},
		{"ALERT-DEV", KindAlertDev, true, false},
		{"alert-lp", KindAlertLP, true, false},
		{"alert-moon", "", false, true},
	}
	for _, tt := range tests {
		got, err := ParseMessageKind(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMessageKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMessageKind(%q) = %q, want %q", tt.input, got, tt.want)
		}
		if got.IsAlert() != tt.wantAlert {
			t.Errorf("%q.IsAlert() = %v, want %v", got, got.IsAlert(), tt.wantAlert)
		}
	}
}
