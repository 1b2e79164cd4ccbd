package sidebar

import "msphub/api/internal/store"

const (
	CategoryClientContact     = "client-contact"
	CategoryCoreDocumentation = "core-documentation"

	// ExpectedItemCount is the number of system items every organization ends up with.
	ExpectedItemCount = 21
)

type defaultItem struct {
	category    string
	key         string
	label       string
	href        string
	icon        Icon
	order       int
	countSource string
}

var defaultCategories = []store.SidebarCategory{
	{CategoryKey: CategoryClientContact, CategoryName: "CLIENT CONTACT", DisplayOrder: 1, IsCollapsible: true, IsExpanded: true, IsVisible: true, IsSystem: true},
	{CategoryKey: CategoryCoreDocumentation, CategoryName: "CORE DOCUMENTATION", DisplayOrder: 2, IsCollapsible: true, IsExpanded: true, IsVisible: true, IsSystem: true},
}

var defaultItems = []defaultItem{
	{CategoryClientContact, "site-summary", "Site Summary", "/site-summary", IconFileText, 1, "site_summaries"},
	{CategoryClientContact, "site-summary-legacy", "Site Summary (Legacy)", "/site-summary-legacy", IconArchive, 2, "site_summaries"},
	{CategoryClientContact, "after-hour-access", "After Hour and Building/Site Access Instructions", "/after-hour-access", IconClock, 3, "site_summaries"},
	{CategoryClientContact, "onsite-information", "Onsite Information", "/onsite-information", IconAlertTriangle, 4, ""},
	{CategoryClientContact, "locations", "Locations", "/locations", IconMapPin, 5, "locations"},
	{CategoryClientContact, "contacts", "Contacts", "/contacts", IconUsers, 6, "contacts"},

	{CategoryCoreDocumentation, "tis-standards-exception", "TIS Standards Exception", "/tis-standards-exception", IconAlertTriangle, 1, ""},
	{CategoryCoreDocumentation, "tis-contract-exceptions", "TIS Contract Exceptions", "/tis-contract-exceptions", IconFileX, 2, ""},
	{CategoryCoreDocumentation, "request-change-form", "Request for Change Form (RFC)", "/rfc", IconClock, 3, ""},
	{CategoryCoreDocumentation, "change-log", "Change Log", "/change-log", IconHistory, 4, ""},
	{CategoryCoreDocumentation, "configurations", "Configurations", "/configurations", IconSettings, 5, "configurations"},
	{CategoryCoreDocumentation, "documents", "Documents", "/documents", IconFileText, 6, "documents"},
	{CategoryCoreDocumentation, "domains-liongard", "Domains - Liongard", "/domain-tracker", IconGlobe, 7, "domains"},
	{CategoryCoreDocumentation, "domain-tracker", "Domain Tracker", "/domain-tracker", IconNetwork, 8, "domains"},
	{CategoryCoreDocumentation, "known-issues", "Known Issues", "/known-issues", IconBug, 9, "known_issues"},
	{CategoryCoreDocumentation, "maintenance-windows", "Maintenance Windows", "/maintenance-windows", IconCalendar, 10, ""},
	{CategoryCoreDocumentation, "multi-factor-authentication", "Multi-Factor Authentication", "/multi-factor-authentication", IconShield, 11, "mfa_configs"},
	{CategoryCoreDocumentation, "networks", "Networks", "/networks", IconWifi, 12, "networks"},
	{CategoryCoreDocumentation, "passwords", "Passwords", "/passwords", IconKey, 13, "passwords"},
	{CategoryCoreDocumentation, "ssl-tracker", "SSL Tracker", "/ssl-tracker", IconLock, 14, "ssl_certificates"},
	{CategoryCoreDocumentation, "tls-ssl-certificate", "TLS/SSL Certificate", "/tls-ssl-certificate", IconShield, 15, "ssl_certificates"},
}

// DefaultItemKeys returns the canonical item keys in display order.
func DefaultItemKeys() []string {
	keys := make([]string, len(defaultItems))
	for i, item := range defaultItems {
		keys[i] = item.key
	}
	return keys
}

// DefaultCategories returns copies of the two system categories.
func DefaultCategories() []store.SidebarCategory {
	out := make([]store.SidebarCategory, len(defaultCategories))
	copy(out, defaultCategories)
	return out
}

// buildDefaultItems resolves each canonical item against the category ids of one organization.
func buildDefaultItems(orgID string, categoryIDs map[string]string) []store.SidebarItem {
	items := make([]store.SidebarItem, 0, len(defaultItems))
	for _, d := range defaultItems {
		items = append(items, store.SidebarItem{
			OrganizationID: orgID,
			CategoryID:     categoryIDs[d.category],
			ItemKey:        d.key,
			ItemLabel:      d.label,
			ItemHref:       d.href,
			IconName:       string(d.icon),
			DisplayOrder:   d.order,
			IsVisible:      true,
			IsSystem:       true,
			CountSource:    d.countSource,
		})
	}
	return items
}
