package vision

import "github.com/manthysbr/inspectd/internal/core/domain"

const jsonOnly = "Reply with a single JSON object and nothing else. Use \"unknown\" for anything you cannot read."

var prompts = map[domain.AnalysisKind]string{
	domain.KindDeviceInfo: `This is a screenshot of a phone's "About" or device information page.
Extract the brand, exact model, system version, storage capacity, serial number, IMEI and any other important parameters.
Return:
{
  "device_brand": "brand",
  "device_model": "model",
  "system_version": "system version",
  "storage_info": "total capacity, available capacity",
  "serial_number": "serial number",
  "imei": "IMEI",
  "other_info": "anything else of note"
}`,

	domain.KindMachineType: `This screenshot shows the phone's model identification page.
Read the brand, the exact model name and the storage capacity.
Return:
{
  "device_brand": "brand",
  "device_model": "model",
  "system_version": "system version",
  "storage_info": "total capacity, available capacity",
  "other_info": "anything else of note"
}`,

	domain.KindProductDate: `This screenshot shows production or activation information for a phone.
Read the production date and the first use or activation date.
Return:
{
  "product_date": "production date",
  "first_use_date": "first use date",
  "other_info": "anything else of note"
}`,

	domain.KindBattery: `This is a screenshot of a phone's battery health page.
Read the maximum capacity percentage, health status, peak performance capability and charge cycle count when shown.
Return:
{
  "maximum_capacity": "maximum capacity percentage",
  "battery_health": "health assessment",
  "peak_performance": "peak performance status",
  "charge_cycles": "charge cycles",
  "recommendations": "recommendation"
}`,

	domain.KindAppearance: `Inspect these photos of a used phone's body.
Check the housing for scratches, dents and impacts, wear on the frame and the state of the back cover.
Grade the overall condition as exactly one of: excellent (almost no signs of use), good (light signs of use), fair (clear signs of use without functional impact), poor (heavy wear or damage).
Return:
{
  "overall_condition": "excellent|good|fair|poor",
  "issues": ["one entry per problem found"],
  "detailed_analysis": {"front": "front", "back": "back", "edges": "frame and edges"},
  "suggestions": ["suggestions"]
}`,

	domain.KindScreen: `Inspect this photo of a used phone's screen.
Look for cracks, scratches, dead pixels, burn-in, discoloration and touch problems.
Return:
{
  "screen_condition": "overall screen grade",
  "issues": ["one entry per problem found"],
  "display_quality": "display quality",
  "functionality": "functional assessment"
}`,

	domain.KindCameraLens: `Inspect these photos of a used phone's camera lenses.
Look for scratches, cracks, dust or fog inside the lens and damage to the lens ring.
Return:
{
  "lens_condition": "overall lens grade",
  "issues": ["one entry per problem found"],
  "cleanliness": "cleanliness",
  "physical_damage": "physical damage"
}`,

	domain.KindFlashlight: `Inspect this photo of a used phone's flashlight.
Judge whether it is lit, how bright it is and whether the cover is damaged.
Return:
{
  "flashlight_condition": "overall grade",
  "functionality": "working or not",
  "brightness": "brightness",
  "issues": ["one entry per problem found"]
}`,
}

const narrativePrompt = `Act as a professional appraiser of used phones for a recycling business.
Evaluate the inspection report below and give a reasonable buy-back price range in CNY.
Weigh major defects first; they drive the largest deductions. When parts of the report are unknown, judge from what is available.
Return:
{
  "price": "price range",
  "other_info": "a short, professional summary"
}`

func promptFor(kind domain.AnalysisKind) (string, bool) {
	p, ok := prompts[kind]
	if !ok {
		return "", false
	}
	return p + "\n" + jsonOnly, true
}
