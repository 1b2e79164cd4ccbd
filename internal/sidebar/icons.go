package sidebar

// Icon names a glyph the portal knows how to render.
type Icon string

const (
	IconFileText      Icon = "FileText"
	IconArchive       Icon = "Archive"
	IconClock         Icon = "Clock"
	IconAlertTriangle Icon = "AlertTriangle"
	IconMapPin        Icon = "MapPin"
	IconUsers         Icon = "Users"
	IconFileX         Icon = "FileX"
	IconHistory       Icon = "History"
	IconSettings      Icon = "Settings"
	IconGlobe         Icon = "Globe"
	IconNetwork       Icon = "Network"
	IconBug           Icon = "Bug"
	IconCalendar      Icon = "Calendar"
	IconShield        Icon = "Shield"
	IconWifi          Icon = "Wifi"
	IconKey           Icon = "Key"
	IconLock          Icon = "Lock"
)

var icons = []Icon{
	IconFileText, IconArchive, IconClock, IconAlertTriangle, IconMapPin, IconUsers,
	IconFileX, IconHistory, IconSettings, IconGlobe, IconNetwork, IconBug,
	IconCalendar, IconShield, IconWifi, IconKey, IconLock,
}

// AvailableIcons lists every icon an item may use.
func AvailableIcons() []Icon {
	out := make([]Icon, len(icons))
	copy(out, icons)
	return out
}

func ParseIcon(name string) (Icon, bool) {
	for _, icon := range icons {
		if string(icon) == name {
			return icon, true
		}
	}
	return "", false
}
