package script

import (
	"fmt"
	"sort"
	"time"
)

const (
	PresetNumeric = "numeric"
	PresetCommand = "command"
)

const (
	numericCaption = "هالعرض المميز:\n" +
		"3 تلاتة تريكو وقبية بـ 199 درهم فقط! 🎉\n" +
		"التوصيل مجاني لجميع المناطق 🚚. سعر المنتج هو 199 درهم. " +
		"من فضلك أرسل معلوماتك للطلب (الاسم، العنوان، رقم الهاتف، المقاس)."

	numericMenu = "للمزيد من المعلومات، يرجى إرسال أحد الأرقام التالية:\n" +
		"1. سعر المنتج\n" +
		"2. تكلفة التوصيل\n" +
		"3. جودة المنتج"

	orderForm = "3 تلاتة تريكو وقبية بـ 199 درهم فقط! 🎉\n" +
		"التوصيل مجاني لجميع المناطق 🚚.\n" +
		"للطلب أرسل:\n" +
		"الاسم:\n" +
		"العنوان:\n" +
		"رقم الهاتف:\n" +
		"المقاس:"

	commandHelp = "الأوامر المتاحة:\n" +
		"start - عرض المنتج ونموذج الطلب\n" +
		"help - قائمة الأوامر"

	commandReminder = "مازال العرض متاح! أرسل start لعرض نموذج الطلب أو help لقائمة الأوامر."

	commandFallback = "لم يتم فهم الأمر. أرسل help لقائمة الأوامر."
)

var presets = map[string]func() *Script{
	PresetNumeric: numericPreset,
	PresetCommand: commandPreset,
}

// Preset returns a fresh copy of a built-in script
func Preset(name string) (*Script, error) {
	build, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return build(), nil
}

// Presets lists the built-in script names
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func numericPreset() *Script {
	return &Script{
		Name:      PresetNumeric,
		MediaPath: "./trk.png",
		Caption:   numericCaption,
		FollowUp:  FollowUpMenu,
		Menu:      numericMenu,
		Keywords: map[string]Reply{
			"1": {Text: "سعر المنتج هو 199 درهم."},
			"2": {Text: "التوصيل مجاني لجميع المناطق 🚚."},
			"3": {Text: "جودة المنتج عالية جدًا."},
		},
		FallbackMode: FallbackOff,
	}
}

func commandPreset() *Script {
	return &Script{
		Name:             PresetCommand,
		MediaPath:        "./trk.png",
		Caption:          numericCaption,
		FollowUp:         FollowUpReminder,
		Reminder:         commandReminder,
		ReminderDelay:    30 * time.Second,
		GreetingKeywords: []string{"hi", "hello", "salam", "السلام عليكم"},
		Keywords: map[string]Reply{
			"start": {Text: orderForm, WithMedia: true},
			"help":  {Text: commandHelp},
		},
		Fallback:     commandFallback,
		FallbackMode: FallbackUnlessGreeted,
	}
}
