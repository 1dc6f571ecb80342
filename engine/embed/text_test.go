package embed

import "testing"

func TestProductText(t *testing.T) {
	cases := []struct {
		name       string
		prodName   string
		desc       string
		shortDesc  string
		categories []string
		want       string
	}{
		{
			name:     "name only",
			prodName: "Deck Screw",
			want:     "Deck Screw",
		},
		{
			name:     "long description preferred",
			prodName: "Deck Screw",
			desc:     "Stainless steel deck screw",
			shortDesc: "Deck screw",
			want:     "Deck Screw. Stainless steel deck screw",
		},
		{
			name:      "short description when long absent",
			prodName:  "Deck Screw",
			shortDesc: "Deck screw",
			want:      "Deck Screw. Deck screw",
		},
		{
			name:       "categories appended",
			prodName:   "Deck Screw",
			desc:       "Stainless steel",
			categories: []string{"Fasteners", "Outdoor"},
			want:       "Deck Screw. Stainless steel. Categories: Fasteners, Outdoor",
		},
		{
			name:       "categories without description",
			prodName:   "Deck Screw",
			categories: []string{"Fasteners"},
			want:       "Deck Screw. Categories: Fasteners",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ProductText(tc.prodName, tc.desc, tc.shortDesc, tc.categories)
			if got != tc.want {
				t.Errorf("ProductText = %q, want %q", got, tc.want)
			}
		})
	}
}
