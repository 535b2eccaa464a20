package services

import (
	"sort"
	"strings"

	"github.com/earnhub/backend/internal/models"
)

type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var nigerianBanks = []Bank{
	{Code: "044", Name: "Access Bank"},
	{Code: "063", Name: "Access Bank (Diamond)"},
	{Code: "401", Name: "ASO Savings and Loans"},
	{Code: "023", Name: "Citibank Nigeria"},
	{Code: "050", Name: "Ecobank Nigeria"},
	{Code: "562", Name: "Ekondo Microfinance Bank"},
	{Code: "070", Name: "Fidelity Bank"},
	{Code: "011", Name: "First Bank of Nigeria"},
	{Code: "214", Name: "First City Monument Bank"},
	{Code: "00103", Name: "Globus Bank"},
	{Code: "058", Name: "Guaranty Trust Bank"},
	{Code: "030", Name: "Heritage Bank"},
	{Code: "301", Name: "Jaiz Bank"},
	{Code: "082", Name: "Keystone Bank"},
	{Code: "526", Name: "Parallex Bank"},
	{Code: "076", Name: "Polaris Bank"},
	{Code: "101", Name: "Providus Bank"},
	{Code: "125", Name: "Rubies MFB"},
	{Code: "221", Name: "Stanbic IBTC Bank"},
	{Code: "068", Name: "Standard Chartered Bank"},
	{Code: "232", Name: "Sterling Bank"},
	{Code: "100", Name: "Suntrust Bank"},
	{Code: "302", Name: "TAJ Bank"},
	{Code: "102", Name: "Titan Trust Bank"},
	{Code: "032", Name: "Union Bank of Nigeria"},
	{Code: "033", Name: "United Bank For Africa"},
	{Code: "215", Name: "Unity Bank"},
	{Code: "035", Name: "Wema Bank"},
	{Code: "057", Name: "Zenith Bank"},
	{Code: "304", Name: "Lotus Bank"},
	{Code: "50211", Name: "Kuda Bank"},
	{Code: "090267", Name: "Kuda Microfinance Bank"},
	{Code: "100002", Name: "Paga"},
	{Code: "110005", Name: "Paycom"},
	{Code: "090405", Name: "Moniepoint MFB"},
	{Code: "090328", Name: "Eyowo"},
	{Code: "090175", Name: "Rubies MFB"},
	{Code: "090110", Name: "VFD Microfinance Bank"},
	{Code: "090286", Name: "Safe Haven MFB"},
	{Code: "090365", Name: "Corestep MFB"},
	{Code: "090393", Name: "Bridgeway MFB"},
	{Code: "090270", Name: "AB Microfinance Bank"},
	{Code: "090371", Name: "Agosasa MFB"},
	{Code: "090374", Name: "Amju Unique MFB"},
	{Code: "090376", Name: "Balogun Gambari MFB"},
	{Code: "090377", Name: "Isaleoyo MFB"},
	{Code: "090378", Name: "New Golden Pastures MFB"},
	{Code: "090392", Name: "Mozfin MFB"},
	{Code: "090394", Name: "Nirsal MFB"},
	{Code: "090395", Name: "Nwannegadi MFB"},
	{Code: "090396", Name: "Oscotech MFB"},
	{Code: "090399", Name: "Ndiorah MFB"},
}

var banksByCode = func() map[string]Bank {
	m := make(map[string]Bank, len(nigerianBanks))
	for _, b := range nigerianBanks {
		m[b.Code] = b
	}
	return m
}()

// BankService is the directory of payout destination banks.
type BankService struct{}

func NewBankService() *BankService {
	return &BankService{}
}

// List returns the supported banks sorted by name.
func (bs *BankService) List() []Bank {
	banks := make([]Bank, len(nigerianBanks))
	copy(banks, nigerianBanks)
	sort.SliceStable(banks, func(i, j int) bool { return banks[i].Name < banks[j].Name })
	return banks
}

func (bs *BankService) Lookup(code string) (Bank, bool) {
	b, ok := banksByCode[strings.TrimSpace(code)]
	return b, ok
}

// Normalize checks an optional bank code against the directory and, when
// present, replaces the free-text bank name with the canonical one.
func (bs *BankService) Normalize(details *models.BankDetails) error {
	details.BankCode = strings.TrimSpace(details.BankCode)
	details.BankName = strings.TrimSpace(details.BankName)
	details.AccountName = strings.TrimSpace(details.AccountName)
	if details.BankCode == "" {
		return nil
	}
	b, ok := bs.Lookup(details.BankCode)
	if !ok {
		return models.ErrUnknownBank
	}
	details.BankName = b.Name
	return nil
}
